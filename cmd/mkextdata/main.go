package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"ctrhle/hle/archive"
	"ctrhle/hle/services/ptm"
)

const copyChunk = 32 * 1024

type target struct {
	code archive.Code
	path archive.Path
}

func main() {
	var (
		root     string
		srcDir   string
		codeName string
		media    uint
		low      uint
		high     uint
		gamecoin bool
	)
	flag.StringVar(&root, "root", "ctrhle-data", "Archive root directory ("+archive.EnvRoot+" overrides).")
	flag.StringVar(&srcDir, "src", "", "Host directory to import into the archive.")
	flag.StringVar(&codeName, "code", archive.CodeSharedExtSaveData.String(), "Archive kind: savedata|extsavedata|sharedextsavedata or a number.")
	flag.UintVar(&media, "media", 0, "Media type word of the archive path.")
	flag.UintVar(&low, "low", 0xF000000B, "Low word of the archive path.")
	flag.UintVar(&high, "high", 0, "High word of the archive path.")
	flag.BoolVar(&gamecoin, "gamecoin", false, "Seed the PTM play coin archive instead of importing a directory.")
	flag.Parse()

	if srcDir == "" && !gamecoin {
		fmt.Fprintln(os.Stderr, "error: -src or -gamecoin is required")
		os.Exit(2)
	}

	m, err := archive.NewOsManager(root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if gamecoin {
		err = seedGameCoin(m)
	} else {
		var code archive.Code
		code, err = archive.ParseCode(codeName)
		if err == nil {
			t := target{code: code, path: archive.ExtSaveDataPath(uint32(media), uint32(low), uint32(high))}
			err = run(m, t, os.DirFS(srcDir))
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// seedGameCoin formats the PTM archive and writes the default record.
func seedGameCoin(m *archive.Manager) error {
	if err := m.Format(archive.CodeSharedExtSaveData, ptm.ExtSaveDataPath); err != nil {
		return err
	}
	a, err := m.Open(archive.CodeSharedExtSaveData, ptm.ExtSaveDataPath)
	if err != nil {
		return err
	}
	b, err := ptm.DefaultGameCoin.MarshalBinary()
	if err != nil {
		return err
	}
	if err := a.CreateFile(ptm.GameCoinFile, ptm.GameCoinSize); err != nil {
		return err
	}
	return a.WriteFile(ptm.GameCoinFile, 0, b)
}

// run formats the target archive and copies every regular file of src into it.
func run(m *archive.Manager, t target, src fs.FS) error {
	var dirs []string
	var files []string
	walkErr := fs.WalkDir(src, ".", func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if entry.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk src: %w", walkErr)
	}

	if err := m.Format(t.code, t.path); err != nil {
		return err
	}
	a, err := m.Open(t.code, t.path)
	if err != nil {
		return err
	}

	// Parents sort before their children.
	sort.Strings(dirs)
	sort.Strings(files)

	for _, d := range dirs {
		if err := a.CreateDirectory("/" + d); err != nil && !errors.Is(err, archive.ErrExists) {
			return err
		}
	}
	for _, f := range files {
		if err := copyFile(a, src, f); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(a *archive.Archive, src fs.FS, name string) error {
	in, err := src.Open(name)
	if err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}
	defer func() { _ = in.Close() }()

	st, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", name, err)
	}
	dst := path.Join("/", name)
	if err := a.CreateFile(dst, st.Size()); err != nil {
		return err
	}

	buf := make([]byte, copyChunk)
	var off int64
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if werr := a.WriteFile(dst, off, buf[:n]); werr != nil {
				return werr
			}
			off += int64(n)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return fmt.Errorf("read %q: %w", name, err)
	}
	return nil
}
