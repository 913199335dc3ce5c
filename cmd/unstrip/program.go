package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"unstrip/internal/analysis"
	"unstrip/internal/config"
	"unstrip/internal/elfx"
	"unstrip/internal/memory"
)

// loadFlags are the image selection flags shared by every subcommand that
// analyzes a program.
type loadFlags struct {
	elf, raw, base string
	config         string
	start, end     string
	entry, mask    string
}

func addLoadFlags(fs *flag.FlagSet) *loadFlags {
	lf := &loadFlags{}
	fs.StringVar(&lf.elf, "elf", "", "path to MIPS ELF executable")
	fs.StringVar(&lf.raw, "raw", "", "path to raw memory image")
	fs.StringVar(&lf.base, "base", "", "load address of a raw image (hex)")
	fs.StringVar(&lf.config, "config", "", "project file (default: nearest "+config.FileName+")")
	fs.StringVar(&lf.start, "start", "", "analysis range start (hex)")
	fs.StringVar(&lf.end, "end", "", "analysis range end (hex, exclusive)")
	fs.StringVar(&lf.entry, "entry", "", "entry point override (hex)")
	fs.StringVar(&lf.mask, "mask", "", "logical to physical address mask (hex)")
	return lf
}

// program is a loaded image ready for analysis.
type program struct {
	name   string // base name of the image file
	img    *memory.Image
	elf    *elfx.File // nil for raw images
	cfg    *config.Config
	entry  uint32
	ranges []config.Bounds
}

func (p *program) Close() error {
	if p.elf != nil {
		return p.elf.Close()
	}
	return nil
}

// load resolves the image from flags, falling back to the project file.
func (lf *loadFlags) load() (*program, error) {
	var cfg *config.Config
	var err error
	if lf.config != "" {
		cfg, err = config.Load(lf.config)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}

	path, kind := lf.elf, "elf"
	if path == "" && lf.raw != "" {
		path, kind = lf.raw, "raw"
	}
	if path == "" {
		if cfg == nil {
			return nil, fmt.Errorf("--elf or --raw is required (no %s found)", config.FileName)
		}
		if path, err = cfg.ImagePath(); err != nil {
			return nil, err
		}
		kind = cfg.Image.Kind
	}

	mask := uint32(memory.DefaultMask)
	switch {
	case lf.mask != "":
		if mask, err = config.ParseAddr(lf.mask); err != nil {
			return nil, fmt.Errorf("--mask: %w", err)
		}
	case cfg != nil:
		if mask, err = cfg.MaskValue(); err != nil {
			return nil, err
		}
	}

	p := &program{name: filepath.Base(path), cfg: cfg, entry: analysis.NoEntryPoint}
	var defStart, defEnd uint32
	switch kind {
	case "elf":
		ef, err := elfx.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		p.elf = ef
		if p.img, err = ef.NewImage(mask); err != nil {
			ef.Close()
			return nil, fmt.Errorf("load: %w", err)
		}
		p.entry = ef.Entry()
		if defStart, defEnd, err = ef.TextRange(); err != nil {
			ef.Close()
			return nil, err
		}
	case "raw":
		baseStr := lf.base
		if baseStr == "" && cfg != nil {
			baseStr = cfg.Image.Base
		}
		var base uint32
		if baseStr != "" {
			if base, err = config.ParseAddr(baseStr); err != nil {
				return nil, fmt.Errorf("--base: %w", err)
			}
		}
		if p.img, err = memory.ReadFile(path, base&mask); err != nil {
			return nil, err
		}
		p.img.Mask = mask
		defStart, defEnd = base, base+uint32(p.img.Size())
	default:
		return nil, fmt.Errorf("unknown image kind %q", kind)
	}

	entry := lf.entry
	if entry == "" && cfg != nil {
		entry = cfg.Image.Entry
	}
	if entry != "" {
		if p.entry, err = config.ParseAddr(entry); err != nil {
			p.Close()
			return nil, fmt.Errorf("--entry: %w", err)
		}
	}

	switch {
	case lf.start != "" || lf.end != "":
		b := config.Bounds{Start: defStart, End: defEnd}
		if lf.start != "" {
			if b.Start, err = config.ParseAddr(lf.start); err != nil {
				p.Close()
				return nil, fmt.Errorf("--start: %w", err)
			}
		}
		if lf.end != "" {
			if b.End, err = config.ParseAddr(lf.end); err != nil {
				p.Close()
				return nil, fmt.Errorf("--end: %w", err)
			}
		}
		if b.End <= b.Start {
			p.Close()
			return nil, fmt.Errorf("%w: [0x%08X, 0x%08X) is empty", config.ErrBadRange, b.Start, b.End)
		}
		p.ranges = []config.Bounds{b}
	case cfg != nil && len(cfg.Analysis.Ranges) > 0:
		if p.ranges, err = cfg.Ranges(); err != nil {
			p.Close()
			return nil, err
		}
	default:
		p.ranges = []config.Bounds{{Start: defStart, End: defEnd}}
	}
	return p, nil
}

// analyze runs the engine over every configured range.
func (p *program) analyze(comments analysis.AnnotationStore) *analysis.Analysis {
	a := analysis.New(analysis.Options{
		Source:     p.img,
		Translator: p.img,
		Comments:   comments,
	})
	for _, r := range p.ranges {
		log.Infof("analyzing [0x%08X, 0x%08X) entry 0x%08X", r.Start, r.End, p.entry)
		a.Analyze(r.Start, r.End, p.entry)
	}
	return a
}

// symbolNames returns ELF function symbols by address, or nil for raw
// and stripped images.
func (p *program) symbolNames() (map[uint32]string, error) {
	if p.elf == nil {
		return nil, nil
	}
	syms, err := p.elf.Symbols()
	if err != nil {
		return nil, err
	}
	if len(syms) == 0 {
		return nil, nil
	}
	names := make(map[uint32]string, len(syms))
	for _, s := range syms {
		if _, ok := names[s.Addr]; !ok {
			names[s.Addr] = s.Name
		}
	}
	return names, nil
}
