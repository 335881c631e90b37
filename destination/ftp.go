package destination

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/HelderFSFerreira/synapse-s3-storage-provider/config"
	"github.com/HelderFSFerreira/synapse-s3-storage-provider/model"
	"github.com/jlaffaye/ftp"
)

var _ ObjectStore = (*FTPDestination)(nil)

// Uploads are sequential; one spare connection covers a reconnect
const ftpPoolSize = 2

// FTPDestination stores objects on an FTP server. Each bucket is a directory
// under BasePath and the storage class is ignored.
type FTPDestination struct {
	config     *config.FTPConfig
	common     *config.CommonDestinationConfig
	retry      *retrier
	connPool   chan *ftp.ServerConn
	closeOnce  sync.Once
	dialConfig *ftp.DialOption
}

// NewFTPDestination creates a new FTP destination
func NewFTPDestination(cfg *config.FTPConfig, common *config.CommonDestinationConfig) (*FTPDestination, error) {
	// Apply defaults
	cfg.ApplyDefaults()
	common.ApplyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ftp config: %w", err)
	}
	if err := common.Validate(); err != nil {
		return nil, fmt.Errorf("invalid common config: %w", err)
	}

	// Setup dial options
	var dialConfig *ftp.DialOption
	if cfg.UseTLS {
		opt := ftp.DialWithExplicitTLS(&tls.Config{ServerName: cfg.Host})
		dialConfig = &opt
	}

	dest := &FTPDestination{
		config:     cfg,
		common:     common,
		retry:      newRetrier(common),
		connPool:   make(chan *ftp.ServerConn, ftpPoolSize),
		dialConfig: dialConfig,
	}

	// Pre-populate connection pool with one connection to verify connectivity
	conn, err := dest.createConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to FTP server: %w", err)
	}
	dest.returnConnection(conn)

	return dest, nil
}

// createConnection creates a new FTP connection
func (f *FTPDestination) createConnection() (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)

	opts := []ftp.DialOption{ftp.DialWithTimeout(time.Duration(f.common.TimeoutSeconds) * time.Second)}
	if f.dialConfig != nil {
		opts = append(opts, *f.dialConfig)
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	if err := conn.Login(f.config.Username, f.config.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return conn, nil
}

// getConnection retrieves a connection from the pool or creates a new one
func (f *FTPDestination) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-f.connPool:
		// Test if connection is still alive
		if err := conn.NoOp(); err != nil {
			conn.Quit()
			return f.createConnection()
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return f.createConnection()
	}
}

// returnConnection returns a connection to the pool
func (f *FTPDestination) returnConnection(conn *ftp.ServerConn) {
	if conn == nil {
		return
	}

	select {
	case f.connPool <- conn:
	default:
		// Pool is full, close the connection
		conn.Quit()
	}
}

func (f *FTPDestination) objectPath(bucket, key string) string {
	return path.Join(f.config.BasePath, bucket, key)
}

// isFTPNotFound reports whether err is a 550 "file unavailable" reply
func isFTPNotFound(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code == ftp.StatusFileUnavailable
	}
	return strings.Contains(err.Error(), "550") || strings.Contains(err.Error(), "not found")
}

// Exists checks the object with SIZE, which fails with 550 for missing files
func (f *FTPDestination) Exists(ctx context.Context, bucket, key string) (bool, error) {
	fullPath := f.objectPath(bucket, key)

	exists, err := withRetry(ctx, f.retry, func(ctx context.Context) (bool, error) {
		conn, err := f.getConnection(ctx)
		if err != nil {
			return false, err
		}
		defer f.returnConnection(conn)

		if _, err := conn.FileSize(fullPath); err != nil {
			if isFTPNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check file existence %s: %w", fullPath, err)
	}
	return exists, nil
}

// Put uploads the file, creating its directory tree first
func (f *FTPDestination) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, _ model.StorageClass) error {
	fullPath := f.objectPath(bucket, key)

	_, err := withRetry(ctx, f.retry, func(ctx context.Context) (struct{}, error) {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return struct{}{}, permanent(fmt.Errorf("failed to rewind body: %w", err))
		}

		conn, err := f.getConnection(ctx)
		if err != nil {
			return struct{}{}, err
		}

		// Create directory structure if needed
		dir := path.Dir(fullPath)
		if dir != "/" && dir != "." {
			if err := f.ensureDirectory(conn, dir); err != nil {
				f.returnConnection(conn)
				return struct{}{}, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}

		err = conn.Stor(fullPath, io.LimitReader(body, size))
		if err != nil {
			// The control connection state is unknown after a failed transfer
			conn.Quit()
			return struct{}{}, err
		}
		f.returnConnection(conn)
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", fullPath, err)
	}
	return nil
}

// ensureDirectory creates directory structure recursively
func (f *FTPDestination) ensureDirectory(conn *ftp.ServerConn, dirPath string) error {
	dirPath = path.Clean(dirPath)
	if dirPath == "/" || dirPath == "." {
		return nil
	}

	currentDir, err := conn.CurrentDir()
	if err != nil {
		return err
	}

	// Directory exists, return to original directory
	if err := conn.ChangeDir(dirPath); err == nil {
		return conn.ChangeDir(currentDir)
	}

	parts := strings.Split(dirPath, "/")
	currentPath := ""
	if strings.HasPrefix(dirPath, "/") {
		currentPath = "/"
	}

	for _, part := range parts {
		if part == "" {
			continue
		}
		currentPath = path.Join(currentPath, part)

		// Ignore errors, the directory may already exist
		conn.MakeDir(currentPath)
	}

	return conn.ChangeDir(currentDir)
}

// Close closes all pooled connections. Calling it more than once is safe.
func (f *FTPDestination) Close() error {
	f.closeOnce.Do(func() {
		close(f.connPool)
		for conn := range f.connPool {
			_ = conn.Quit()
		}
	})
	return nil
}
