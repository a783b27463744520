// Package fsutil implements the spool filesystem safety checks: opening a
// path with no symlink/hard-link surprises, and auditing an existing file's
// permissions before the daemon trusts it (a filter program, a backend, a
// conf file). Grounded on cups_open()'s link/ownership checks in
// original_source/cups/file.c, reimplemented with direct syscalls since the
// corpus carries no library for path-traversal-safe opens.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/printspool/printspoold/internal/errs"
)

// Kind selects what CheckFile expects to find at a path.
type Kind int

const (
	KindFile Kind = iota
	KindProgram
	KindFileOnly
	KindDirectory
)

// CheckResult is the outcome of CheckFile.
type CheckResult int

const (
	CheckOK CheckResult = iota
	CheckMissing
	CheckBadPermissions
	CheckWrongType
	CheckRelativePath
)

func (r CheckResult) String() string {
	switch r {
	case CheckOK:
		return "ok"
	case CheckMissing:
		return "missing"
	case CheckBadPermissions:
		return "bad-permissions"
	case CheckWrongType:
		return "wrong-type"
	case CheckRelativePath:
		return "relative-path"
	default:
		return "unknown"
	}
}

// Reporter receives a human-readable explanation for non-ok CheckFile
// results; the caller typically wires this to the daemon's logger.
type Reporter func(path string, result CheckResult, detail string)

// SpoolOwnership is the uid/gid newly created spool files are chowned to.
type SpoolOwnership struct {
	UID, GID int
}

// SafeOpen opens path for the given os.O_* mode flags, refusing to resolve
// through a symlink, to open a file with more than one hard link, or to
// open a directory where a file was requested. Created files are chowned
// to own and given 0640 permissions. Paths containing "../" segments are
// rejected outright.
func SafeOpen(path string, mode int, own SpoolOwnership) (*os.File, error) {
	if strings.Contains(path, "../") {
		return nil, errs.New(errs.FSUnsafe, "path contains ../ segment: "+path)
	}

	const perm = 0640
	fd, err := unix.Open(path, mode|unix.O_NOFOLLOW, perm)
	if err != nil {
		return nil, errs.Wrap(errs.FSUnsafe, "open "+path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, errs.Wrap(errs.FSUnsafe, "fstat "+path, err)
	}

	if st.Nlink != 1 {
		_ = unix.Close(fd)
		return nil, errs.New(errs.FSUnsafe, "hard-linked file rejected: "+path)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		_ = unix.Close(fd)
		return nil, errs.New(errs.FSUnsafe, "directory rejected where file expected: "+path)
	}

	created := mode&os.O_CREATE != 0
	if created {
		if err := unix.Fchown(fd, own.UID, own.GID); err != nil {
			_ = unix.Close(fd)
			return nil, errs.Wrap(errs.FSUnsafe, "chown "+path, err)
		}
		if err := unix.Fchmod(fd, perm); err != nil {
			_ = unix.Close(fd)
			return nil, errs.Wrap(errs.FSUnsafe, "chmod "+path, err)
		}
	}

	return os.NewFile(uintptr(fd), path), nil
}

// CheckFile audits an existing path per Kind, optionally applying the
// superuser-owned/not-group-or-world-writable/not-setuid root checks; when
// set, the containing directory is checked under the same rules unless
// kind is KindFileOnly. report, if non-nil, is invoked for every non-ok
// result with a human-readable explanation.
func CheckFile(path string, kind Kind, rootChecks bool, report Reporter) CheckResult {
	if !filepath.IsAbs(path) {
		report.call(path, CheckRelativePath, "path is not absolute")
		return CheckRelativePath
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		report.call(path, CheckMissing, err.Error())
		return CheckMissing
	}

	isDir := st.Mode&unix.S_IFMT == unix.S_IFDIR
	switch kind {
	case KindDirectory:
		if !isDir {
			report.call(path, CheckWrongType, "expected a directory")
			return CheckWrongType
		}
	case KindFile, KindFileOnly, KindProgram:
		if isDir {
			report.call(path, CheckWrongType, "expected a file")
			return CheckWrongType
		}
	}
	if kind == KindProgram && st.Mode&0111 == 0 {
		report.call(path, CheckWrongType, "program is not executable")
		return CheckWrongType
	}

	if rootChecks {
		if result := checkRootOwned(path, st, report); result != CheckOK {
			return result
		}
		if kind != KindFileOnly {
			dir := filepath.Dir(path)
			var dst unix.Stat_t
			if err := unix.Stat(dir, &dst); err != nil {
				report.call(dir, CheckMissing, err.Error())
				return CheckMissing
			}
			if result := checkRootOwned(dir, dst, report); result != CheckOK {
				return result
			}
		}
	}

	return CheckOK
}

func checkRootOwned(path string, st unix.Stat_t, report Reporter) CheckResult {
	if st.Uid != 0 {
		report.call(path, CheckBadPermissions, "not owned by the superuser")
		return CheckBadPermissions
	}
	if st.Mode&(unix.S_IWGRP|unix.S_IWOTH) != 0 {
		report.call(path, CheckBadPermissions, "group- or world-writable")
		return CheckBadPermissions
	}
	if st.Mode&unix.S_ISUID != 0 {
		report.call(path, CheckBadPermissions, "setuid bit set")
		return CheckBadPermissions
	}
	return CheckOK
}

func (r Reporter) call(path string, result CheckResult, detail string) {
	if r != nil {
		r(path, result, detail)
	}
}
