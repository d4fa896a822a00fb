//go:build !unix

package procgroup

import "os/exec"

func Detach(cmd *exec.Cmd) {}
