//go:build !unix

package predict

import "os/exec"

// configureProcess keeps the exec default of killing the direct child.
func configureProcess(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}
