package services

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/hotspotbill/backend/internal/config"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/jlaffaye/ftp"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"gorm.io/gorm"
)

const (
	backupPrefix  = "hotspotbill_"
	backupSuffix  = ".json.gz"
	backupVersion = 1
	remoteTimeout = 30 * time.Second
)

// BackupFile describes one backup archive on disk
type BackupFile struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupResult is the outcome of Create
type BackupResult struct {
	File     BackupFile `json:"file"`
	Uploaded []string   `json:"uploaded"`
	Error    string     `json:"error,omitempty"`
}

// backupTables lists what goes into an archive, in restore order. Users are
// left out so password hashes and 2FA secrets never leave the server.
var backupTables = []struct {
	name  string
	model func() interface{}
}{
	{"settings", func() interface{} { return &[]models.Setting{} }},
	{"routers", func() interface{} { return &[]models.Router{} }},
	{"profiles", func() interface{} { return &[]models.Profile{} }},
	{"vendors", func() interface{} { return &[]models.Vendor{} }},
	{"voucher_batches", func() interface{} { return &[]models.VoucherBatch{} }},
	{"vouchers", func() interface{} { return &[]models.Voucher{} }},
	{"customers", func() interface{} { return &[]models.Customer{} }},
	{"subscriptions", func() interface{} { return &[]models.Subscription{} }},
	{"invoices", func() interface{} { return &[]models.Invoice{} }},
	{"payments", func() interface{} { return &[]models.Payment{} }},
}

// remoteStore is an off-box copy target
type remoteStore interface {
	Name() string
	Upload(name string, r io.Reader) error
	Prune(cutoff time.Time) (int, error)
	Close() error
}

// BackupService writes gzip JSON exports and ships them off the box
type BackupService struct {
	db  *gorm.DB
	cfg config.BackupConfig
	now func() time.Time

	// dialers are swapped in tests
	dialFTP  func(config.BackupConfig) (remoteStore, error)
	dialSFTP func(config.BackupConfig) (remoteStore, error)
}

// NewBackupService creates a backup service writing into cfg.Dir
func NewBackupService(db *gorm.DB, cfg config.BackupConfig) *BackupService {
	return &BackupService{
		db:       db,
		cfg:      cfg,
		now:      time.Now,
		dialFTP:  dialFTP,
		dialSFTP: dialSFTP,
	}
}

// Create exports the billing tables, uploads the archive to the configured
// targets and applies retention. Upload failures are reported in the result
// and do not fail the backup.
func (s *BackupService) Create(ctx context.Context) (*BackupResult, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}

	now := s.now()
	name := fmt.Sprintf("%s%s_%s%s", backupPrefix, now.Format("20060102_150405"), uuid.NewString()[:8], backupSuffix)
	final := filepath.Join(s.cfg.Dir, name)

	tmp, err := os.CreateTemp(s.cfg.Dir, ".tmp_"+name)
	if err != nil {
		return nil, err
	}
	err = s.export(ctx, tmp, now)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), final)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write backup: %w", err)
	}

	st, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	result := &BackupResult{File: backupFile(st), Uploaded: []string{}}
	log.WithFields(log.Fields{"file": name, "size": result.File.SizeHuman}).Info("Backup created")

	var errs *multierror.Error
	for _, store := range s.remotes() {
		if err := s.upload(store, final, name); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		result.Uploaded = append(result.Uploaded, store.Name())
	}
	if err := s.Prune(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		result.Error = err.Error()
		log.WithError(err).Warn("Backup finished with errors")
	}
	return result, nil
}

func (s *BackupService) export(ctx context.Context, w io.Writer, now time.Time) error {
	gz := gzip.NewWriter(w)
	buf := bufio.NewWriter(gz)
	stream := jsoniter.NewStream(jsoniter.ConfigCompatibleWithStandardLibrary, buf, 4096)

	stream.WriteObjectStart()
	stream.WriteObjectField("version")
	stream.WriteInt(backupVersion)
	stream.WriteMore()
	stream.WriteObjectField("created_at")
	stream.WriteString(now.UTC().Format(time.RFC3339))
	stream.WriteMore()
	stream.WriteObjectField("tables")
	stream.WriteObjectStart()
	for i, table := range backupTables {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rows := table.model()
		if err := s.db.WithContext(ctx).Order("1").Find(rows).Error; err != nil {
			return fmt.Errorf("read %s: %w", table.name, err)
		}
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(table.name)
		stream.WriteVal(rows)
		if stream.Error != nil {
			return stream.Error
		}
	}
	stream.WriteObjectEnd()
	stream.WriteObjectEnd()

	if err := stream.Flush(); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	return gz.Close()
}

func (s *BackupService) remotes() []remoteStore {
	var stores []remoteStore
	if s.cfg.FTPEnabled() {
		if store, err := s.dialFTP(s.cfg); err != nil {
			log.WithError(err).Error("FTP backup target unavailable")
		} else {
			stores = append(stores, store)
		}
	}
	if s.cfg.SFTPEnabled() {
		if store, err := s.dialSFTP(s.cfg); err != nil {
			log.WithError(err).Error("SFTP backup target unavailable")
		} else {
			stores = append(stores, store)
		}
	}
	return stores
}

func (s *BackupService) upload(store remoteStore, localPath, name string) error {
	defer store.Close()
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := store.Upload(name, f); err != nil {
		return fmt.Errorf("%s upload: %w", store.Name(), err)
	}
	log.WithFields(log.Fields{"file": name, "target": store.Name()}).Info("Backup uploaded")
	return nil
}

// Prune deletes local and remote backups older than the retention period
func (s *BackupService) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)

	var errs *multierror.Error
	files, err := s.List()
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	removed := 0
	for _, f := range files {
		if f.CreatedAt.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.cfg.Dir, f.Name)); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			removed++
		}
	}

	for _, store := range s.remotes() {
		n, err := store.Prune(cutoff)
		store.Close()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s prune: %w", store.Name(), err))
		}
		removed += n
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("Old backups removed")
	}
	return errs.ErrorOrNil()
}

// List returns the local backups, newest first
func (s *BackupService) List() ([]BackupFile, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []BackupFile{}, nil
	}
	if err != nil {
		return nil, err
	}
	files := []BackupFile{}
	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, backupFile(info))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].CreatedAt.After(files[j].CreatedAt) })
	return files, nil
}

// Path returns the local path of a backup for download
func (s *BackupService) Path(name string) (string, error) {
	if !isBackupName(name) || filepath.Base(name) != name {
		return "", fmt.Errorf("backup %q: %w", name, ErrNotAllowed)
	}
	p := filepath.Join(s.cfg.Dir, name)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("backup %w", ErrNotFound)
		}
		return "", err
	}
	return p, nil
}

// Delete removes a local backup
func (s *BackupService) Delete(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return err
	}
	log.WithField("file", name).Info("Backup deleted")
	return nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) &&
		!strings.ContainsAny(name, `/\`)
}

func backupFile(info fs.FileInfo) BackupFile {
	return BackupFile{
		Name:      info.Name(),
		Size:      info.Size(),
		SizeHuman: humanize.Bytes(uint64(info.Size())),
		CreatedAt: info.ModTime(),
	}
}

// ---- FTP ----

type ftpStore struct {
	conn *ftp.ServerConn
	host string
}

func dialFTP(cfg config.BackupConfig) (remoteStore, error) {
	addr := net.JoinHostPort(cfg.FTPHost, fmt.Sprint(cfg.FTPPort))
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(remoteTimeout))
	if err != nil {
		return nil, fmt.Errorf("FTP connection failed: %w", err)
	}
	if err := conn.Login(cfg.FTPUser, cfg.FTPPassword); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("FTP login failed: %w", err)
	}
	if cfg.FTPPath != "" && cfg.FTPPath != "/" {
		if err := conn.ChangeDir(cfg.FTPPath); err != nil {
			conn.MakeDir(cfg.FTPPath)
			if err := conn.ChangeDir(cfg.FTPPath); err != nil {
				conn.Quit()
				return nil, fmt.Errorf("FTP directory change failed: %w", err)
			}
		}
	}
	return &ftpStore{conn: conn, host: cfg.FTPHost}, nil
}

func (f *ftpStore) Name() string { return "ftp://" + f.host }

func (f *ftpStore) Upload(name string, r io.Reader) error {
	return f.conn.Stor(name, r)
}

func (f *ftpStore) Prune(cutoff time.Time) (int, error) {
	entries, err := f.conn.List(".")
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs *multierror.Error
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || !isBackupName(e.Name) || !e.Time.Before(cutoff) {
			continue
		}
		if err := f.conn.Delete(e.Name); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs.ErrorOrNil()
}

func (f *ftpStore) Close() error { return f.conn.Quit() }

// ---- SFTP ----

type sftpStore struct {
	ssh    *ssh.Client
	client *sftp.Client
	host   string
	dir    string
}

func dialSFTP(cfg config.BackupConfig) (remoteStore, error) {
	clientConfig := &ssh.ClientConfig{
		User:    cfg.SFTPUser,
		Auth:    []ssh.AuthMethod{ssh.Password(cfg.SFTPPassword)},
		Timeout: remoteTimeout,
		// TODO: pin the host key through a BACKUP_SFTP_HOST_KEY setting
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	addr := net.JoinHostPort(cfg.SFTPHost, fmt.Sprint(cfg.SFTPPort))
	sshClient, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("SFTP session failed: %w", err)
	}
	dir := cfg.SFTPPath
	if dir == "" {
		dir = "."
	}
	if err := client.MkdirAll(dir); err != nil {
		client.Close()
		sshClient.Close()
		return nil, fmt.Errorf("SFTP mkdir %s: %w", dir, err)
	}
	return &sftpStore{ssh: sshClient, client: client, host: cfg.SFTPHost, dir: dir}, nil
}

func (s *sftpStore) Name() string { return "sftp://" + s.host }

func (s *sftpStore) Upload(name string, r io.Reader) error {
	dst, err := s.client.Create(path.Join(s.dir, name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *sftpStore) Prune(cutoff time.Time) (int, error) {
	infos, err := s.client.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs *multierror.Error
	for _, info := range infos {
		if info.IsDir() || !isBackupName(info.Name()) || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.client.Remove(path.Join(s.dir, info.Name())); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs.ErrorOrNil()
}

func (s *sftpStore) Close() error {
	s.client.Close()
	return s.ssh.Close()
}
