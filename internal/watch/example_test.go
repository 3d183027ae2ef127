package watch_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/keynotes-rtc/keynotes/internal/watch"
)

// ExampleStart demonstrates the check-then-clear cycle of a Watcher.
func ExampleStart() {
	dir, err := os.MkdirTemp("", "watch-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "keynotes.txt")
	if err := os.WriteFile(path, []byte("A\tWalls\n"), 0644); err != nil {
		log.Fatal(err)
	}

	w, err := watch.Start(dir, "keynotes.txt")
	if err != nil {
		log.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("A\tWalls\nB\tDoors\n"), 0644); err != nil {
		log.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !w.Signal() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Println("changed:", w.Signal())

	time.Sleep(100 * time.Millisecond)
	w.Clear()
	fmt.Println("after clear:", w.Signal())

	// Output:
	// changed: true
	// after clear: false
}
