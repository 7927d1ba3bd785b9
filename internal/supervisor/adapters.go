package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"syscall"

	"github.com/arcwave/arbicore/internal/domain"
)

// SubprocessAdapter runs a bot as an external program in its own process
// group, so a stop signal reaches every descendant it spawned.
type SubprocessAdapter struct {
	launchSpec string
	cmd        *exec.Cmd
	stderr     bytes.Buffer
}

// NewSubprocessAdapter builds an adapter that will exec launchSpec (the
// bot's script/binary path plus any fixed arguments, space-separated).
func NewSubprocessAdapter(launchSpec string) *SubprocessAdapter {
	return &SubprocessAdapter{launchSpec: launchSpec}
}

func (a *SubprocessAdapter) Launch(ctx context.Context, desc domain.BotDescriptor, config map[string]string) error {
	parts := strings.Fields(a.launchSpec)
	if len(parts) == 0 {
		return fmt.Errorf("supervisor: empty launch spec for bot %s", desc.BotID)
	}
	if _, err := os.Stat(parts[0]); err != nil {
		return fmt.Errorf("supervisor: bot program not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = os.Environ()
	for k, v := range config {
		cmd.Env = append(cmd.Env, fmt.Sprintf("ARB_%s=%s", strings.ToUpper(k), v))
	}
	cmd.Stderr = &a.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start bot %s: %w", desc.BotID, err)
	}
	a.cmd = cmd
	return nil
}

func (a *SubprocessAdapter) Signal() error {
	if a.cmd == nil || a.cmd.Process == nil {
		return errors.New("supervisor: adapter not launched")
	}
	return syscall.Kill(-a.cmd.Process.Pid, syscall.SIGTERM)
}

func (a *SubprocessAdapter) Kill() error {
	if a.cmd == nil || a.cmd.Process == nil {
		return errors.New("supervisor: adapter not launched")
	}
	err := syscall.Kill(-a.cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (a *SubprocessAdapter) Wait() (error, string) {
	if a.cmd == nil {
		return errors.New("supervisor: adapter not launched"), ""
	}
	err := a.cmd.Wait()
	return err, a.stderr.String()
}

func (a *SubprocessAdapter) Alive() bool {
	if a.cmd == nil || a.cmd.Process == nil {
		return false
	}
	return a.cmd.ProcessState == nil
}

// InProcessAdapter drives an in-process bot implementation by probing for
// recognized entry-point methods in priority order: Run, Monitor, Execute,
// Main. The first one found is invoked in its own goroutine; Signal
// cancels the context handed to it.
type InProcessAdapter struct {
	instance any

	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

// entryPointNames is the priority order the dynamic-load variant probes:
// run, monitor, execute, main.
var entryPointNames = []string{"Run", "Monitor", "Execute", "Main"}

// NewInProcessAdapter wraps an already-constructed bot instance. instance
// must expose at least one of the recognized entry-point methods with the
// signature func(context.Context) error.
func NewInProcessAdapter(instance any) *InProcessAdapter {
	return &InProcessAdapter{instance: instance}
}

func (a *InProcessAdapter) Launch(ctx context.Context, desc domain.BotDescriptor, _ map[string]string) error {
	method, ok := a.findEntryPoint()
	if !ok {
		return fmt.Errorf("supervisor: bot %s exposes none of %v", desc.BotID, entryPointNames)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.errCh = make(chan error, 1)
	a.started = true

	go func() {
		results := method.Call([]reflect.Value{reflect.ValueOf(runCtx)})
		if len(results) == 1 && !results[0].IsNil() {
			a.errCh <- results[0].Interface().(error)
			return
		}
		a.errCh <- nil
	}()
	return nil
}

func (a *InProcessAdapter) findEntryPoint() (reflect.Value, bool) {
	v := reflect.ValueOf(a.instance)
	wantType := reflect.TypeOf((*context.Context)(nil)).Elem()
	errType := reflect.TypeOf((*error)(nil)).Elem()

	for _, name := range entryPointNames {
		m := v.MethodByName(name)
		if !m.IsValid() {
			continue
		}
		t := m.Type()
		if t.NumIn() != 1 || !t.In(0).Implements(wantType) {
			continue
		}
		if t.NumOut() != 1 || !t.Out(0).Implements(errType) {
			continue
		}
		return m, true
	}
	return reflect.Value{}, false
}

func (a *InProcessAdapter) Signal() error {
	if a.cancel == nil {
		return errors.New("supervisor: adapter not launched")
	}
	a.cancel()
	return nil
}

// Kill is identical to Signal for an in-process bot: there is no separate
// force-termination primitive short of killing the whole process.
func (a *InProcessAdapter) Kill() error {
	return a.Signal()
}

func (a *InProcessAdapter) Wait() (error, string) {
	if a.errCh == nil {
		return errors.New("supervisor: adapter not launched"), ""
	}
	err := <-a.errCh
	if err != nil {
		return err, err.Error()
	}
	return nil, ""
}

func (a *InProcessAdapter) Alive() bool {
	if !a.started {
		return false
	}
	select {
	case err, open := <-a.errCh:
		if open {
			a.errCh <- err
		}
		return false
	default:
		return true
	}
}

var (
	_ BotAdapter = (*SubprocessAdapter)(nil)
	_ BotAdapter = (*InProcessAdapter)(nil)
)
