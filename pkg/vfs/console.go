package vfs

import "github.com/mizu-os/mizu/pkg/sbi"

// ConsoleIo adapts an sbi.Provider's legacy console putchar call into a
// vfs.Io, the backend /dev/console is mounted on. SBI's legacy console
// has no read side, so ReadAt fills buf with zero bytes and returns no
// error rather than blocking. Io carries no byte count, so a read
// through an OpenFile does not see end-of-file: it gets len(buf) zero
// bytes.
type ConsoleIo struct {
	prov sbi.Provider
}

// NewConsoleIo wraps prov as a write-only console device.
func NewConsoleIo(prov sbi.Provider) *ConsoleIo {
	return &ConsoleIo{prov: prov}
}

func (c *ConsoleIo) ReadAt(buf []byte, off int64) error {
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (c *ConsoleIo) WriteAt(buf []byte, off int64) error {
	for _, b := range buf {
		c.prov.ConsolePutChar(b)
	}
	return nil
}

func (c *ConsoleIo) Sync() error { return nil }
