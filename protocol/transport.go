package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// maxFrameBytes bounds a single frame to prevent a malformed length prefix
// from driving an unbounded allocation.
const maxFrameBytes = 64 << 20

// WriteMultipart writes frames as one multipart message: a 4-byte
// big-endian frame count, then for each frame a 4-byte big-endian length
// followed by its bytes. This stands in for ZeroMQ's native multipart
// message framing over a plain net.Conn.
func WriteMultipart(w io.Writer, frames [][]byte) error {
	bw := bufio.NewWriter(w)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(frames)))
	if _, err := bw.Write(countBuf[:]); err != nil {
		return fmt.Errorf("protocol: write frame count: %w", err)
	}
	for _, f := range frames {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("protocol: write frame length: %w", err)
		}
		if _, err := bw.Write(f); err != nil {
			return fmt.Errorf("protocol: write frame body: %w", err)
		}
	}
	return bw.Flush()
}

// ReadMultipart reads one multipart message written by WriteMultipart.
func ReadMultipart(r io.Reader) ([][]byte, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("protocol: read frame length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxFrameBytes {
			return nil, NewMalformedPayloadError("transport", fmt.Sprintf("frame length %d exceeds max %d", n, maxFrameBytes), nil)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("protocol: read frame body: %w", err)
		}
		frames = append(frames, buf)
	}
	return frames, nil
}

// BindEphemeral listens on addr (host with no port, e.g. "0.0.0.0" or "") on
// an OS-chosen TCP port and returns the listener and the chosen port. Used
// for the CMDP publisher, CSCP reply, and CDTP push sockets.
func BindEphemeral(host string) (net.Listener, int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, 0, fmt.Errorf("protocol: bind ephemeral port: %w", err)
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, 0, fmt.Errorf("protocol: parse bound address: %w", err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		ln.Close()
		return nil, 0, fmt.Errorf("protocol: parse bound port: %w", err)
	}
	return ln, port, nil
}
