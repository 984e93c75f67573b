package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	// 1. Compile the binary
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	binDir := filepath.Join(projectRoot, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create bin dir: %v\n", err)
		os.Exit(1)
	}

	binPath := filepath.Join(binDir, "squish")
	if runtime.GOOS == "windows" {
		binPath += ".exe"
	}

	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/squish")
	cmd.Dir = projectRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build squish: %v\n", err)
		os.Exit(1)
	}

	// 2. Run the tests; the scripts call the built binary from PATH
	os.Exit(testscript.RunMain(m, map[string]func() int{}))
}

func TestScript(t *testing.T) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	binDir := filepath.Join(projectRoot, "bin")

	testscript.Run(t, testscript.Params{
		Dir: "testdata",
		Setup: func(env *testscript.Env) error {
			env.Vars = append(env.Vars,
				fmt.Sprintf("PATH=%s%c%s", binDir, filepath.ListSeparator, os.Getenv("PATH")),
				"HOME="+env.WorkDir,
				"XDG_CONFIG_HOME="+filepath.Join(env.WorkDir, ".config"),
				"GIT_CONFIG_NOSYSTEM=1",
				"GIT_AUTHOR_NAME=Script User",
				"GIT_AUTHOR_EMAIL=script@example.com",
				"GIT_COMMITTER_NAME=Script User",
				"GIT_COMMITTER_EMAIL=script@example.com",
			)
			return nil
		},
	})
}
