// Package repotest builds in-memory repositories for tests.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/danieljhkim/deltaserve/internal/clock"
	"github.com/danieljhkim/deltaserve/internal/fsops"
	"github.com/danieljhkim/deltaserve/internal/hash"
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// Epoch is the fake clock's start time.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// New opens an empty repository on an in-memory filesystem.
func New(t testing.TB) *repo.FileRepository {
	t.Helper()
	r, err := repo.OpenFileRepository(fsops.NewMemFS(), hash.NewSHA256Hasher(), clock.NewFakeClock(Epoch))
	if err != nil {
		t.Fatalf("OpenFileRepository failed: %v", err)
	}
	return r
}

// Commit commits txn and fails the test on error.
func Commit(t testing.TB, r *repo.FileRepository, txn *repo.Txn) int64 {
	t.Helper()
	rev, err := r.Commit(context.Background(), txn)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return rev
}

// Standard builds a small project history:
//
//	r1  trunk/, trunk/README, trunk/src/, trunk/src/main.go, trunk/src/util.go
//	r2  trunk/src/main.go modified, trunk/docs/ and trunk/docs/guide.txt added
//	r3  branches/, branches/b1 copied from trunk@2
//	r4  trunk/README deleted, trunk/src/util.go property set
func Standard(t testing.TB) *repo.FileRepository {
	t.Helper()
	r := New(t)

	Commit(t, r, repo.NewTxn("alice", "initial layout").
		Mkdir("trunk", nil).
		PutFile("trunk/README", []byte("readme\n"), nil).
		Mkdir("trunk/src", nil).
		PutFile("trunk/src/main.go", []byte("package main\n\nfunc main() {}\n"), nil).
		PutFile("trunk/src/util.go", []byte("package main\n"), nil))

	Commit(t, r, repo.NewTxn("bob", "add docs").
		PutFile("trunk/src/main.go", []byte("package main\n\nfunc main() {\n\tprintln(1)\n}\n"), nil).
		Mkdir("trunk/docs", nil).
		PutFile("trunk/docs/guide.txt", []byte("guide\n"), nil))

	Commit(t, r, repo.NewTxn("alice", "branch").
		Mkdir("branches", nil).
		Copy("trunk", 2, "branches/b1"))

	Commit(t, r, repo.NewTxn("bob", "cleanup").
		Delete("trunk/README").
		SetProps("trunk/src/util.go", map[string]string{"svn:eol-style": "native"}))

	return r
}
