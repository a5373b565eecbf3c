package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crunch/internal/config"
	"crunch/internal/daemon"
	"crunch/internal/encoder/encodertest"
	"crunch/internal/ipc"
	"crunch/internal/logging"
	"crunch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	invoker    *encodertest.Invoker
	socketPath string
	configPath string
	baseDir    string
	ctx        context.Context
}

// setupCLITestEnv starts a daemon backed by a fake encoder. When serve is
// true it also listens on a unix socket so commands can dial it.
func setupCLITestEnv(t *testing.T, serve bool) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithOutputDir("out"), testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	invoker := encodertest.NewInvoker()
	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger, daemon.Options{Invoker: invoker})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	env := &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		invoker:    invoker,
		socketPath: filepath.Join(base, "crunch.sock"),
		configPath: configPath,
		baseDir:    base,
		ctx:        ctx,
	}
	if !serve {
		return env
	}

	srv, err := ipc.NewServer(ctx, env.socketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return env
}

func (e *cliTestEnv) sources(t *testing.T, names ...string) []string {
	t.Helper()
	return testsupport.SourceFiles(t, e.baseDir, names...)
}

func (e *cliTestEnv) client(t *testing.T) *ipc.Client {
	t.Helper()
	client, err := ipc.Dial(e.socketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// runCLI executes the root command against the env's socket and config.
func (e *cliTestEnv) runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--socket", e.socketPath, "--config", e.configPath}, args...))
	err := cmd.ExecuteContext(e.ctx)
	return out.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\noutput_dir = %q\npreset_file = %q\n\n[history]\nenabled = false\n\n[notifications]\nntfy_topic = \"\"\n",
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.OutputDir,
		cfg.Paths.PresetFile,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
