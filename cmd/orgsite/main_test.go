package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		dir := t.TempDir()
		env, err := loadDotEnv(dir)
		if err != nil || len(env) != 0 {
			t.Fatalf("missing file: %v, %v", env, err)
		}
		content := "# comment\nHTTP=:9090\n\nADMIN_PASSWORD=\"a b=c\"\nnot a pair\n"
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		env, err = loadDotEnv(dir)
		if err != nil {
			t.Fatal(err)
		}
		if env["HTTP"] != ":9090" || env["ADMIN_PASSWORD"] != "a b=c" || len(env) != 2 {
			t.Errorf("env = %v", env)
		}
	})
	t.Run("errors", func(t *testing.T) {
		for _, content := range []string{"A='x'\n", "A=\"x\n"} {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := loadDotEnv(dir); err == nil {
				t.Errorf("%q: expected error", content)
			}
		}
	})
}
