package database

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const backupLayout = "20060102_150405"

func (d *Database) backupDir() string {
	return filepath.Join(filepath.Dir(d.path), "backups")
}

// Backup writes a consistent copy of the database to backups/<timestamp>_dispatch.db.zip
// next to the database file.
func (d *Database) Backup(ctx context.Context) error {
	dir := d.backupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	snapshot := filepath.Join(dir, time.Now().Format(backupLayout)+"_dispatch.db")
	if _, err := d.write.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return fmt.Errorf("vacuuming database into '%s': %w", snapshot, err)
	}
	defer func() {
		if err := os.Remove(snapshot); err != nil {
			d.logger.Warn("could not remove uncompressed backup", slog.String("path", snapshot), slog.Any("error", err))
		}
	}()

	dest := snapshot + ".zip"
	if err := zipFile(snapshot, dest, filepath.Base(d.path)); err != nil {
		os.Remove(dest)
		return err
	}

	d.logger.Info("database backup complete", slog.String("filename", dest))
	return nil
}

func zipFile(src, dest, entry string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open database backup for compression: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat database backup: %w", err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("create zip header: %w", err)
	}
	header.Name = entry
	header.Method = zip.Deflate

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create zip file: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create zip file entry: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("write database to zip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip file: %w", err)
	}
	return out.Close()
}

// PurgeBackups removes backups older than retentionDays. Files that are not backups are
// left alone.
func (d *Database) PurgeBackups(ctx context.Context, retentionDays int) error {
	if retentionDays < 1 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	dir := d.backupDir()
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read backup directory: %w", err)
	}

	removed := 0
	for _, file := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stamp, ok := strings.CutSuffix(file.Name(), "_dispatch.db.zip")
		if !ok {
			continue
		}
		t, err := time.ParseInLocation(backupLayout, stamp, time.Local)
		if err != nil {
			d.logger.Debug("failed to parse backup timestamp", slog.String("filename", file.Name()), slog.Any("error", err))
			continue
		}
		if t.Before(cutoff) {
			path := filepath.Join(dir, file.Name())
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove old backup '%s': %w", path, err)
			}
			removed++
		}
	}

	d.logger.Info("backup purge complete", slog.Int("removed", removed))
	return nil
}
