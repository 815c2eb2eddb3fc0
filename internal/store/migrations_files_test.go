package store

import (
	"io/fs"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	fsys, err := Migrations("")
	if err != nil {
		t.Fatalf("open embedded migrations: %v", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestUpMigrationsSkipsDownFiles(t *testing.T) {
	fsys, err := Migrations("")
	if err != nil {
		t.Fatalf("open embedded migrations: %v", err)
	}
	files, err := upMigrations(fsys)
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	if len(files) == 0 || files[0] != "0001_init.up.sql" {
		t.Fatalf("unexpected up migrations: %v", files)
	}
	for _, name := range files {
		if regexp.MustCompile(`\.down\.sql$`).MatchString(name) {
			t.Fatalf("down migration %s listed as up", name)
		}
	}
}
