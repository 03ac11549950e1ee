package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultFTPHost is the Census Bureau bulk file mirror.
const DefaultFTPHost = "ftp2.census.gov:21"

// ftpConn is the connection surface the fetcher needs; tests stub it.
type ftpConn interface {
	Retr(path string) (io.ReadCloser, error)
	List(path string) ([]*ftp.Entry, error)
	Quit() error
}

// serverConn adapts *ftp.ServerConn to ftpConn. Retr needs the wrapper
// because the concrete return type differs.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

// FTPFetcher retrieves files from the Census FTP mirror with anonymous
// login. Paths passed to Fetch and FetchToFile are server paths, not URLs.
type FTPFetcher struct {
	host    string
	timeout time.Duration
	dial    func(ctx context.Context) (ftpConn, error)
	log     *zap.Logger
}

// NewFTPFetcher builds an FTPFetcher for host ("host:port"). An empty host
// selects DefaultFTPHost.
func NewFTPFetcher(host string, timeout time.Duration) *FTPFetcher {
	if host == "" {
		host = DefaultFTPHost
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	f := &FTPFetcher{
		host:    host,
		timeout: timeout,
		log:     zap.L().With(zap.String("component", "fetcher.ftp")),
	}
	f.dial = f.connect
	return f
}

// Fetch implements Fetcher for FTP server paths.
func (f *FTPFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := f.withConn(ctx, func(conn ftpConn) error {
		resp, err := conn.Retr(path)
		if err != nil {
			return eris.Wrapf(err, "fetcher: ftp retr %s", path)
		}
		defer func() { _ = resp.Close() }()
		data, err = io.ReadAll(resp)
		if err != nil {
			return eris.Wrapf(err, "fetcher: ftp read %s", path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// FetchToFile implements Fetcher for FTP server paths.
func (f *FTPFetcher) FetchToFile(ctx context.Context, path, dest string) (int64, error) {
	var n int64
	err := f.withConn(ctx, func(conn ftpConn) error {
		resp, err := conn.Retr(path)
		if err != nil {
			return eris.Wrapf(err, "fetcher: ftp retr %s", path)
		}
		defer func() { _ = resp.Close() }()

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return eris.Wrapf(err, "fetcher: create dir for %s", dest)
		}
		tmp := dest + ".part"
		out, err := os.Create(tmp)
		if err != nil {
			return eris.Wrapf(err, "fetcher: create %s", tmp)
		}
		n, err = io.Copy(out, resp)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(tmp)
			return eris.Wrapf(err, "fetcher: write %s", dest)
		}
		if err := os.Rename(tmp, dest); err != nil {
			_ = os.Remove(tmp)
			return eris.Wrapf(err, "fetcher: finalize %s", dest)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	f.log.Debug("downloaded file via ftp",
		zap.String("path", path),
		zap.String("dest", dest),
		zap.Int64("bytes", n))
	return n, nil
}

// List returns the entry names under an FTP directory, for discovering
// available TIGER vintages.
func (f *FTPFetcher) List(ctx context.Context, dir string) ([]string, error) {
	var names []string
	err := f.withConn(ctx, func(conn ftpConn) error {
		entries, err := conn.List(dir)
		if err != nil {
			return eris.Wrapf(err, "fetcher: ftp list %s", dir)
		}
		for _, e := range entries {
			names = append(names, e.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (f *FTPFetcher) connect(ctx context.Context) (ftpConn, error) {
	conn, err := ftp.Dial(f.host,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.timeout))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp dial %s", f.host)
	}
	if err := conn.Login("anonymous", "anonymous"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp login %s", f.host)
	}
	return serverConn{conn}, nil
}

func (f *FTPFetcher) withConn(ctx context.Context, fn func(ftpConn) error) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()
	return fn(conn)
}

var _ Fetcher = (*FTPFetcher)(nil)
