package export

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const defaultCacheTTLSeconds = 15 * 60

// Cache keeps rendered artifacts in memory. Keys contain a fingerprint of the
// rendered data, so a new workout simply produces a new key and stale
// entries age out on their own.
type Cache struct {
	cache      *freecache.Cache
	ttlSeconds int
}

// NewCache creates a cache of sizeBytes. Artifacts larger than
// sizeBytes/1024 are not cached (freecache entry limit).
func NewCache(sizeBytes, ttlSeconds int) *Cache {
	if ttlSeconds <= 0 {
		ttlSeconds = defaultCacheTTLSeconds
	}
	return &Cache{
		cache:      freecache.NewCache(sizeBytes),
		ttlSeconds: ttlSeconds,
	}
}

func cacheKey(userID int, format Format, kind Kind, ds Dataset) []byte {
	return fmt.Appendf(nil, "%d:%s:%s:%s:%016x", userID, format, kind, ds.day(), Fingerprint(ds))
}

func (c *Cache) Get(userID int, format Format, kind Kind, ds Dataset) (Artifact, bool) {
	data, err := c.cache.Get(cacheKey(userID, format, kind, ds))
	if err != nil {
		if !errors.Is(err, freecache.ErrNotFound) {
			log.Errorf("export cache get: %s", err)
		}
		return Artifact{}, false
	}
	return Artifact{
		Filename: Filename(format, ds.day()),
		MIMEType: format.MIMEType(),
		Data:     data,
	}, true
}

func (c *Cache) Set(userID int, format Format, kind Kind, ds Dataset, artifact Artifact) {
	err := c.cache.Set(cacheKey(userID, format, kind, ds), artifact.Data, c.ttlSeconds)
	if err != nil {
		if errors.Is(err, freecache.ErrLargeEntry) {
			log.Debugf("export cache: artifact of %d bytes too large to cache", len(artifact.Data))
			return
		}
		log.Errorf("export cache set: %s", err)
	}
}

func (c *Cache) EntryCount() int64 {
	return c.cache.EntryCount()
}

// Fingerprint hashes every input an export depends on.
func Fingerprint(ds Dataset) uint64 {
	h := xxhash.New()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}

	_, _ = h.WriteString(ds.Calendar.Location().String())
	for _, w := range ds.Workouts {
		writeInt(int64(w.ID))
		writeInt(w.Date.UnixNano())
		_, _ = h.WriteString(w.ExerciseType.String())
		writeInt(int64(w.Count))
	}
	for _, d := range ds.Daily {
		_, _ = h.WriteString(d.Date)
		writeInt(int64(d.Total))
	}
	writeInt(int64(ds.Streak.CurrentStreak))
	writeInt(int64(ds.Report.Size()))
	return h.Sum64()
}

// Exporter renders artifacts, serving repeated identical exports from cache.
// A nil cache disables caching.
type Exporter struct {
	cache *Cache
}

func NewExporter(cache *Cache) *Exporter {
	return &Exporter{cache: cache}
}

// Export returns the artifact and whether it came from cache.
func (e *Exporter) Export(userID int, format Format, kind Kind, ds Dataset) (Artifact, bool, error) {
	if format != FormatCSV {
		kind = ""
	}
	if e.cache != nil {
		if artifact, ok := e.cache.Get(userID, format, kind, ds); ok {
			return artifact, true, nil
		}
	}

	artifact, err := Render(format, kind, ds)
	if err != nil {
		return Artifact{}, false, err
	}
	if e.cache != nil {
		e.cache.Set(userID, format, kind, ds, artifact)
	}
	return artifact, false, nil
}
