package fetch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// eofMarker is the trailer line some loggers append after the last record.
const eofMarker = "EOF"

// ftpMargin is added to count to cover a partial leading line and the marker.
const ftpMargin = 2

// fetchFTP streams a file over anonymous FTP. With count > 0 only the last
// count+2 lines before the end-of-transfer marker are kept.
func (f *Fetcher) fetchFTP(ctx context.Context, src models.FTPSource, count int) (payload models.RawPayload, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.FTPTimeout)
	defer cancel()

	addr := src.Host
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	if err := f.wait(reqCtx, addr); err != nil {
		return models.RawPayload{}, err
	}

	conn, err := ftp.Dial(addr, ftp.DialWithDialFunc(deadlineDialer(reqCtx)))
	if err != nil {
		return models.RawPayload{}, fmt.Errorf("ftp dial %s: %w", addr, err)
	}
	defer func() {
		if quitErr := conn.Quit(); quitErr != nil {
			f.logger.Debug("ftp quit failed", zap.String("addr", addr), zap.Error(quitErr))
		}
	}()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return models.RawPayload{}, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(src.Path)
	if err != nil {
		return models.RawPayload{}, fmt.Errorf("ftp retr %s: %w", src.Path, err)
	}
	lines, readErr := readLines(resp, count)
	if closeErr := resp.Close(); closeErr != nil && readErr == nil {
		readErr = closeErr
	}
	if readErr != nil {
		if reqCtx.Err() != nil {
			return models.RawPayload{}, fmt.Errorf("request timeout: %w", reqCtx.Err())
		}
		return models.RawPayload{}, fmt.Errorf("ftp read %s: %w", src.Path, readErr)
	}

	return models.RawPayload{Data: joinLines(lines), Order: models.OldestFirst}, nil
}

// deadlineDialer dials control and data connections with the request
// deadline applied, so a stalled transfer fails instead of hanging.
func deadlineDialer(ctx context.Context) func(network, address string) (net.Conn, error) {
	return func(network, address string) (net.Conn, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := c.SetDeadline(deadline); err != nil {
				c.Close()
				return nil, err
			}
		}
		return c, nil
	}
}

// readLines scans r and returns the trailing non-blank lines to keep. Only a
// bounded tail is buffered when count > 0.
func readLines(r io.Reader, count int) ([]string, error) {
	keep := -1
	if count > 0 {
		keep = count + ftpMargin + 1
	}

	var ring []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		ring = append(ring, line)
		if keep > 0 && len(ring) > keep*4 {
			ring = append(ring[:0], ring[len(ring)-keep:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return trailingRecords(ring, count), nil
}

// trailingRecords drops trailing blank lines and the end-of-transfer marker,
// then keeps the last count+2 lines.
func trailingRecords(lines []string, count int) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.EqualFold(strings.TrimSpace(lines[len(lines)-1]), eofMarker) {
		lines = lines[:len(lines)-1]
	}
	if count > 0 && len(lines) > count+ftpMargin {
		lines = lines[len(lines)-(count+ftpMargin):]
	}
	return lines
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for i, line := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	return buf.Bytes()
}
