package compiler

import (
	"fmt"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/breach/internal/logging"
)

// DefaultTarget is the script target used when none is configured.
const DefaultTarget = "es2020"

// Options configures the builtin compilers.
type Options struct {
	Target    string
	Minify    bool
	Timeout   time.Duration
	CacheSize int
}

func (o Options) targetName() string {
	if o.Target == "" {
		return DefaultTarget
	}
	return o.Target
}

// fingerprint identifies settings that change compiled output.
func (o Options) fingerprint() string {
	return fmt.Sprintf("target=%s;minify=%t", o.targetName(), o.Minify)
}

// Default returns a registry with the builtin compilers:
//
//	html, css, js     pass-through
//	md                markdown to markup
//	scss              SCSS subset to stylesheet
//	ts, tsx, jsx      esbuild transpile to script
func Default(opts Options, logger logging.Logger) (*Registry, error) {
	r, err := NewRegistry(RegistryConfig{
		Timeout:   opts.Timeout,
		CacheSize: opts.CacheSize,
		Options:   opts.fingerprint(),
	}, logger)
	if err != nil {
		return nil, err
	}

	r.Register("html", Passthrough(KindMarkup))
	r.Register("css", Passthrough(KindStylesheet))
	r.Register("js", Passthrough(KindScript), "mjs")
	r.Register("md", NewMarkdown())
	r.Register("scss", NewSCSS(opts))

	scripts := []struct {
		tag    string
		loader api.Loader
	}{
		{"ts", api.LoaderTS},
		{"tsx", api.LoaderTSX},
		{"jsx", api.LoaderJSX},
	}
	for _, s := range scripts {
		c, err := NewScript(s.loader, s.tag, opts)
		if err != nil {
			return nil, err
		}
		r.Register(s.tag, c)
	}

	return r, nil
}
