package stream

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/bluerelay/transport"
)

// dumpPath builds the capture file name for a transport. Profile and
// codec names are lowercased and de-spaced so the path stays shell
// friendly.
func dumpPath(t *transport.Transport) string {
	clean := func(s string) string {
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, " ", "-")
	}
	return fmt.Sprintf("/tmp/bluerelay-%s-%s.dump",
		clean(t.Profile().String()), clean(t.Codec().CodecID().String()))
}

// runSinkDump is the fallback sink engine: it captures the raw
// incoming transport stream to a file instead of decoding it. Useful
// when a remote device negotiates a codec the daemon has no decoder
// for and the payload needs offline analysis.
func runSinkDump(t *transport.Transport) error {
	btFD, mtuRead, _ := t.BTSocket()
	if btFD == -1 {
		return fmt.Errorf("stream: invalid BT socket")
	}
	if mtuRead <= 0 {
		return fmt.Errorf("stream: invalid reading MTU: %d", mtuRead)
	}

	path := dumpPath(t)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("stream: couldn't create dump file: %w", err)
	}
	defer f.Close()

	logrus.WithFields(logrus.Fields{
		"function": "runSinkDump",
		"id":       t.ID.String(),
		"path":     path,
	}).Info("Dumping incoming BT stream")

	buf := make([]byte, mtuRead)
	for {
		if t.Stopping() {
			return nil
		}

		pfds := []unix.PollFd{
			{Fd: int32(t.SignalFD()), Events: unix.POLLIN},
			{Fd: int32(btFD), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			t.ReadSignal()
			if t.Stopping() {
				return nil
			}
			continue
		}

		n, err := unix.Read(btFD, buf)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runSinkDump",
				"error":    err.Error(),
			}).Debug("BT read error")
			continue
		}
		if n == 0 {
			t.CloseBTSocket()
			return nil
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("stream: dump write: %w", err)
		}
	}
}
