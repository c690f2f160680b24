package mount

import (
	"fmt"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/ravindu644/droidspaces/internal/dserr"
)

// BindTargetIndex orders and de-duplicates the container-side targets that
// the boot sequence's step-5 bind loop (and the fixed per-step targets:
// dev/console, dev/ttyN, storage/emulated/0, ...) bind-mounts onto. A radix
// tree keyed by the container path gives us prefix-aware collision
// detection (e.g. refusing a bind mount whose target is an ancestor of an
// already-registered one) for free, the same structure the teacher's
// mount.newMountHelper walks to classify /proc and /sys submounts.
type BindTargetIndex struct {
	tree *iradix.Tree
}

func NewBindTargetIndex() *BindTargetIndex {
	return &BindTargetIndex{tree: iradix.New()}
}

// Register records that containerPath will be a mount target, returning an
// error if an ancestor or descendant of containerPath is already
// registered (the two mounts would race / shadow each other).
func (b *BindTargetIndex) Register(containerPath string) error {
	var conflict string
	b.tree.Root().Walk(func(k []byte, _ interface{}) bool {
		existing := string(k)
		if isPathPrefix(existing, containerPath) || isPathPrefix(containerPath, existing) {
			conflict = existing
			return true
		}
		return false
	})
	if conflict != "" {
		return dserr.New(dserr.KindMountFailed, "mount:bind",
			fmt.Sprintf("target %q conflicts with already-registered target %q", containerPath, conflict))
	}

	tree, _, _ := b.tree.Insert([]byte(containerPath), struct{}{})
	b.tree = tree
	return nil
}

func isPathPrefix(prefix, path string) bool {
	if prefix == path {
		return true
	}
	if len(prefix) < len(path) && path[:len(prefix)] == prefix && path[len(prefix)] == '/' {
		return true
	}
	return false
}

// Len reports how many targets have been registered so far.
func (b *BindTargetIndex) Len() int {
	return b.tree.Len()
}
