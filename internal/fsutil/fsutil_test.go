package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/printspool/printspoold/internal/errs"
)

func TestSafeOpenRejectsDotDotSegments(t *testing.T) {
	_, err := SafeOpen("/var/spool/printspool/../etc/passwd", os.O_RDONLY, SpoolOwnership{})
	require.True(t, errs.Is(err, errs.FSUnsafe))
}

func TestSafeOpenRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0640))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	_, err := SafeOpen(link, os.O_RDONLY, SpoolOwnership{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.FSUnsafe))
}

func TestSafeOpenRejectsHardLink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0640))
	link := filepath.Join(dir, "hardlink")
	require.NoError(t, os.Link(target, link))

	_, err := SafeOpen(link, os.O_RDONLY, SpoolOwnership{})
	require.True(t, errs.Is(err, errs.FSUnsafe))
}

func TestSafeOpenCreatesWithSpoolPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.0001")

	f, err := SafeOpen(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, SpoolOwnership{UID: os.Getuid(), GID: os.Getgid()})
	require.NoError(t, err)
	defer f.Close()

	st, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0640), st.Mode().Perm())
}

func TestCheckFileRejectsRelativePath(t *testing.T) {
	result := CheckFile("relative/path", KindFile, false, nil)
	require.Equal(t, CheckRelativePath, result)
}

func TestCheckFileMissing(t *testing.T) {
	result := CheckFile("/no/such/printspool/path", KindFile, false, nil)
	require.Equal(t, CheckMissing, result)
}

func TestCheckFileWrongTypeDirectoryExpected(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0640))

	result := CheckFile(file, KindDirectory, false, nil)
	require.Equal(t, CheckWrongType, result)
}

func TestCheckFileProgramRequiresExecutable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "filter")
	require.NoError(t, os.WriteFile(file, []byte("#!/bin/sh\n"), 0640))

	result := CheckFile(file, KindProgram, false, nil)
	require.Equal(t, CheckWrongType, result)
}

func TestCheckFileOKForOrdinaryFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ok")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0640))

	var reports []CheckResult
	result := CheckFile(file, KindFile, false, func(path string, r CheckResult, detail string) {
		reports = append(reports, r)
	})
	require.Equal(t, CheckOK, result)
	require.Empty(t, reports)
}
