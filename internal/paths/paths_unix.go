//go:build unix

package paths

import (
	"fmt"
	"os"
	"syscall"
)

func checkOwner(st os.FileInfo) error {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if int(sys.Uid) != os.Getuid() {
		return fmt.Errorf("base dir owned by uid %d, expected %d", sys.Uid, os.Getuid())
	}
	return nil
}
