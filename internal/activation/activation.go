package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes activated file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr).
const firstFD = 3

// Listeners returns the systemd-activated listeners.
// It checks for systemd socket activation via LISTEN_PID and LISTEN_FDS environment variables.
// Returns nil if no socket activation is detected or if the activation is not for this process.
func Listeners() ([]net.Listener, error) {
	// Check if LISTEN_PID is set and matches our process ID
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}

	if pid != os.Getpid() {
		// Socket activation is for a different process
		return nil, nil
	}

	// Check LISTEN_FDS
	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return nil, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}

	if numFDs < 1 {
		return nil, nil
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		// Close the file descriptor (listener takes ownership)
		_ = file.Close()

		listeners = append(listeners, listener)
	}

	// Unset the environment variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// Listener returns the first systemd-activated listener, or nil when the
// process was not socket-activated. Servers that bind a single address use
// this and fall back to their configured listen address.
func Listener() (net.Listener, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) == 0 {
		return nil, nil
	}
	// Only the first socket is served; close any extras.
	for _, ln := range listeners[1:] {
		_ = ln.Close()
	}
	return listeners[0], nil
}
