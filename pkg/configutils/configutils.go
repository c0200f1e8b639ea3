// Package configutils loads layered viper configuration files and binds
// environment overrides for mapstructure-tagged structs.
package configutils

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// ImportKey lists the files a configuration file imports. Imported files are
// merged first so the importing file overrides them.
const ImportKey = "imports"

// ResolveAndMergeFile reads path from fs into v after merging every file it
// imports, depth first.
func ResolveAndMergeFile(fs afero.Fs, v *viper.Viper, path string) error {
	if _, err := fs.Stat(path); err != nil {
		return err
	}
	ext, err := configType(path)
	if err != nil {
		return err
	}

	v.SetFs(fs)
	v.SetConfigType(ext)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	r := resolver{fs: fs, visited: map[string]bool{}}
	if err := r.walk(v); err != nil {
		return fmt.Errorf("could not resolve configuration imports: %w", err)
	}
	for _, p := range append(r.order, v.ConfigFileUsed()) {
		if err := r.merge(v, p); err != nil {
			return fmt.Errorf("merging config %s: %w", p, err)
		}
	}
	return nil
}

func configType(path string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", errors.New("configuration file has no extension")
	}
	if !slices.Contains(viper.SupportedExts, ext) {
		return "", fmt.Errorf("unsupported configuration file extension: .%s", ext)
	}
	return ext, nil
}

type resolver struct {
	fs      afero.Fs
	visited map[string]bool
	order   []string
}

// walk appends imports in post-order so children merge before parents.
func (r *resolver) walk(v *viper.Viper) error {
	for _, imp := range v.GetStringSlice(ImportKey) {
		if imp == "" {
			continue
		}
		path := filepath.Clean(imp)
		if !filepath.IsAbs(imp) {
			path = filepath.Join(filepath.Dir(v.ConfigFileUsed()), imp)
		}
		if r.visited[path] {
			continue
		}
		r.visited[path] = true

		if _, err := r.fs.Stat(path); err != nil {
			return err
		}
		ext, err := configType(path)
		if err != nil {
			return err
		}
		child := viper.New()
		child.SetFs(r.fs)
		child.SetConfigType(ext)
		child.SetConfigFile(path)
		if err := child.ReadInConfig(); err != nil {
			return err
		}
		if err := r.walk(child); err != nil {
			return err
		}
		r.order = append(r.order, path)
	}
	return nil
}

func (r *resolver) merge(v *viper.Viper, path string) error {
	f, err := r.fs.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return v.MergeConfig(f)
}

// BindEnvsRecursive binds an environment variable for every mapstructure key
// of the struct iface points to, so AutomaticEnv overrides reach Unmarshal.
// Nil struct pointers are allocated on the way.
func BindEnvsRecursive(v *viper.Viper, iface interface{}, prefix string) error {
	val := reflect.ValueOf(iface)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected a pointer to a struct, got %T", iface)
	}
	val = val.Elem()
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		tag, _, _ := strings.Cut(typ.Field(i).Tag.Get("mapstructure"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		field := val.Field(i)
		if field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct {
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
			field = field.Elem()
		}
		if field.Kind() == reflect.Struct && field.Type().PkgPath() != "time" {
			if err := BindEnvsRecursive(v, field.Addr().Interface(), key); err != nil {
				return err
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}
	return nil
}
