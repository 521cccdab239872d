package worker

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// rebindStdioImpl is the unix implementation backing rebindStdio.
func rebindStdioImpl() (in, out *os.File, err error) {
	inFd, err := unix.Dup(0)
	if err != nil {
		return nil, nil, fmt.Errorf("dup stdin: %w", err)
	}
	outFd, err := unix.Dup(1)
	if err != nil {
		unix.Close(inFd)
		return nil, nil, fmt.Errorf("dup stdout: %w", err)
	}

	devNull, err := unix.Open("/dev/null", unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(inFd)
		unix.Close(outFd)
		return nil, nil, fmt.Errorf("open /dev/null: %w", err)
	}
	if err := unix.Dup2(devNull, 0); err != nil {
		unix.Close(devNull)
		unix.Close(inFd)
		unix.Close(outFd)
		return nil, nil, fmt.Errorf("rebind stdin to /dev/null: %w", err)
	}
	unix.Close(devNull)

	if err := unix.Dup2(2, 1); err != nil {
		unix.Close(inFd)
		unix.Close(outFd)
		return nil, nil, fmt.Errorf("rebind stdout to stderr: %w", err)
	}

	return os.NewFile(uintptr(inFd), "scriptproxy-protocol-in"),
		os.NewFile(uintptr(outFd), "scriptproxy-protocol-out"),
		nil
}
