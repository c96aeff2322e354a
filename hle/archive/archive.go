// Package archive is the host side of the emulated file-system archives
// used by HLE services for persistent data.
package archive

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/spf13/afero"

	"ctrhle/hle/ipc"
)

// EnvRoot overrides the configured archive root directory.
const EnvRoot = "CTRHLE_ARCHIVE_ROOT"

type resultError struct {
	msg string
	rc  ipc.ResultCode
}

func (e *resultError) Error() string          { return e.msg }
func (e *resultError) Result() ipc.ResultCode { return e.rc }

const (
	descNotFound      ipc.Description = 120
	descAlreadyExists ipc.Description = 190
	descNotFormatted  ipc.Description = 340
	descInvalidPath   ipc.Description = 702
)

var (
	ErrNotFormatted error = &resultError{"archive: not formatted",
		ipc.MakeResult(descNotFormatted, ipc.ModuleFS, ipc.SummaryInvalidState, ipc.LevelStatus)}
	ErrNotFound error = &resultError{"archive: not found",
		ipc.MakeResult(descNotFound, ipc.ModuleFS, ipc.SummaryNotFound, ipc.LevelStatus)}
	ErrExists error = &resultError{"archive: already exists",
		ipc.MakeResult(descAlreadyExists, ipc.ModuleFS, ipc.SummaryNothingHappened, ipc.LevelStatus)}
	ErrInvalidPath error = &resultError{"archive: invalid path",
		ipc.MakeResult(descInvalidPath, ipc.ModuleFS, ipc.SummaryInvalidArgument, ipc.LevelUsage)}
)

// Result maps an archive error to the result code a handler reports.
func Result(err error) ipc.ResultCode {
	return ipc.ResultFromError(err)
}

// Code identifies an archive kind.
type Code uint32

const (
	CodeSaveData          Code = 0x4
	CodeExtSaveData       Code = 0x6
	CodeSharedExtSaveData Code = 0x7
)

func (c Code) String() string {
	switch c {
	case CodeSaveData:
		return "savedata"
	case CodeExtSaveData:
		return "extsavedata"
	case CodeSharedExtSaveData:
		return "sharedextsavedata"
	default:
		return fmt.Sprintf("archive-%d", uint32(c))
	}
}

// ParseCode accepts an archive kind by name or number.
func ParseCode(s string) (Code, error) {
	for _, c := range []Code{CodeSaveData, CodeExtSaveData, CodeSharedExtSaveData} {
		if s == c.String() {
			return c, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("archive code %q: unknown", s)
	}
	return Code(v), nil
}

// Path is a binary archive path.
type Path []byte

// ExtSaveDataPath builds the 12-byte path {media, low, high}.
func ExtSaveDataPath(media, low, high uint32) Path {
	p := make(Path, 12)
	binary.LittleEndian.PutUint32(p[0:4], media)
	binary.LittleEndian.PutUint32(p[4:8], low)
	binary.LittleEndian.PutUint32(p[8:12], high)
	return p
}

func (p Path) dir() string { return hex.EncodeToString(p) }

// Manager opens and formats archives under a root directory.
type Manager struct {
	fs   afero.Fs
	root string

	mu sync.Mutex
}

// NewManager returns a manager storing archives under root in fsys.
func NewManager(fsys afero.Fs, root string) *Manager {
	return &Manager{fs: fsys, root: root}
}

// NewOsManager stores archives on the host file system. EnvRoot, when set,
// replaces root.
func NewOsManager(root string) (*Manager, error) {
	if v := os.Getenv(EnvRoot); v != "" {
		root = v
	}
	if root == "" {
		return nil, errors.New("archive: empty root")
	}
	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create root: %w", err)
	}
	return NewManager(fsys, root), nil
}

func (m *Manager) dir(code Code, p Path) string {
	return filepath.Join(m.root, code.String(), p.dir())
}

// Open returns the archive, or ErrNotFormatted if it was never formatted.
func (m *Manager) Open(code Code, p Path) (*Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.dir(code, p)
	ok, err := afero.DirExists(m.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", code, p.dir(), err)
	}
	if !ok {
		return nil, fmt.Errorf("open %s/%s: %w", code, p.dir(), ErrNotFormatted)
	}
	return &Archive{code: code, fs: afero.NewBasePathFs(m.fs, dir)}, nil
}

// Format (re)creates an empty archive.
func (m *Manager) Format(code Code, p Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.dir(code, p)
	if err := m.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("format %s/%s: %w", code, p.dir(), err)
	}
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("format %s/%s: %w", code, p.dir(), err)
	}
	return nil
}

// Archive is an opened archive. File names are absolute, slash-separated.
type Archive struct {
	code Code
	fs   afero.Fs

	mu sync.Mutex
}

func (a *Archive) Code() Code { return a.code }

func cleanName(name string) (string, error) {
	if name == "" || name[0] != '/' {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidPath)
	}
	clean := path.Clean(name)
	if clean == "/" || clean != name {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidPath)
	}
	return clean, nil
}

func mapErr(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, name, ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s %s: %w", op, name, ErrExists)
	default:
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
}

// CreateFile creates a zero-filled file of size bytes.
func (a *Archive) CreateFile(name string, size int64) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return mapErr("create", name, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return mapErr("create", name, err)
	}
	return mapErr("create", name, f.Close())
}

// WriteFile writes p at off into an existing file.
func (a *Archive) WriteFile(name string, off int64, p []byte) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.fs.OpenFile(name, os.O_WRONLY, 0o644)
	if err != nil {
		return mapErr("write", name, err)
	}
	if _, err := f.WriteAt(p, off); err != nil {
		_ = f.Close()
		return mapErr("write", name, err)
	}
	return mapErr("write", name, f.Close())
}

// ReadFile returns the whole file.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := a.fs.Open(name)
	if err != nil {
		return nil, mapErr("read", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, mapErr("read", name, err)
	}
	return b, nil
}

// Exists reports whether name is a file in the archive.
func (a *Archive) Exists(name string) bool {
	name, err := cleanName(name)
	if err != nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, err := a.fs.Stat(name)
	return err == nil && !st.IsDir()
}

// Remove deletes a file.
func (a *Archive) Remove(name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return mapErr("remove", name, a.fs.Remove(name))
}

// CreateDirectory creates one directory. Its parent must exist.
func (a *Archive) CreateDirectory(name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return mapErr("mkdir", name, a.fs.Mkdir(name, 0o755))
}
