// Command basic is a minimal HTTP front-end over shmcache, demonstrating
// attach, Get/Set, and a debug snapshot endpoint. Grounded on
// theflywheel-phash/example/main.go's "open, insert, fetch" shape, wrapped
// in the small HTTP surface arena-cache-inspect expects a host service to
// expose (GET /debug/shmcache/snapshot).
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/shmcache/shmcache"
)

func main() {
	sharePath := "/tmp/shmcache-example"
	os.Remove(sharePath)

	c, err := shmcache.New(shmcache.Options{
		SharePath:  sharePath,
		RawValues:  true,
		NumPages:   7,
		PageSize:   64 << 10,
		StartSlots: 89,
	})
	if err != nil {
		log.Fatalf("attach failed: %v", err)
	}
	defer c.Close()

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		val := []byte(fmt.Sprintf("value-%d", i*100))
		if _, err := c.Set(key, val); err != nil {
			log.Fatalf("set %s failed: %v", key, err)
		}
	}
	fmt.Println("inserted 10 key-value pairs")

	http.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		v, found, err := c.Get([]byte(key))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		w.Write(v)
	})

	http.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		val := r.URL.Query().Get("value")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		if _, err := c.Set([]byte(key), []byte(val)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	http.HandleFunc("/debug/shmcache/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Stats())
	})

	log.Println("listening on :8089")
	log.Fatal(http.ListenAndServe(":8089", nil))
}
