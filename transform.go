package vex

import (
	"strconv"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/vexjs/vex/internal/sourcecache"
)

// Loader selects the input syntax for TransformSource.
type Loader int

const (
	LoaderJS Loader = iota
	LoaderTS
	LoaderJSX
	LoaderTSX
)

func (l Loader) String() string {
	switch l {
	case LoaderTS:
		return "ts"
	case LoaderJSX:
		return "jsx"
	case LoaderTSX:
		return "tsx"
	}
	return "js"
}

func (l Loader) esbuildLoader() esbuild.Loader {
	switch l {
	case LoaderTS:
		return esbuild.LoaderTS
	case LoaderJSX:
		return esbuild.LoaderJSX
	case LoaderTSX:
		return esbuild.LoaderTSX
	}
	return esbuild.LoaderJS
}

// TransformOptions configures TransformSource.
type TransformOptions struct {
	Loader Loader
	Minify bool

	// CacheDir holds the persistent transform cache. Empty disables
	// caching.
	CacheDir string
}

// TransformSource lowers TypeScript or JSX to plain JavaScript ready for
// Eval. Failures are reported as ErrParse. When CacheDir is set, results
// are cached by content hash across processes.
func TransformSource(source string, opts TransformOptions) (string, error) {
	var cache *sourcecache.Cache
	var key string
	if opts.CacheDir != "" {
		var err error
		cache, err = openCache(opts.CacheDir)
		if err != nil {
			Logger().Warn("transform cache unavailable", zap.Error(err))
			cache = nil
		} else {
			key = sourcecache.Key("transform", opts.Loader.String(), strconv.FormatBool(opts.Minify), source)
			if data, ok, err := cache.Get(key); err == nil && ok {
				return string(data), nil
			}
		}
	}

	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:            opts.Loader.esbuildLoader(),
		Target:            esbuild.ES2022,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", &Error{Kind: ErrParse, Message: strings.Join(msgs, "; ")}
	}
	code := string(result.Code)

	if cache != nil {
		if err := cache.Put(key, []byte(code)); err != nil {
			Logger().Warn("transform cache write failed", zap.Error(err))
		}
	}
	return code, nil
}

// Cache handles are shared per directory for the life of the process.
var (
	cacheMu sync.Mutex
	caches  = map[string]*sourcecache.Cache{}
)

func openCache(dir string) (*sourcecache.Cache, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if c, ok := caches[dir]; ok {
		return c, nil
	}
	c, err := sourcecache.Open(dir)
	if err != nil {
		return nil, err
	}
	caches[dir] = c
	return c, nil
}
