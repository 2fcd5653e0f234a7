// Package serialization holds the process-wide BSON type mapping: a time codec
// decoding into the local time zone and string-based codecs for registered
// enumeration types. Register enums first, then call Initialize once at startup;
// every repository and store driver shares the built registry.
package serialization

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonoptions"
)

// ErrRegistryFrozen is returned when types are registered after Initialize.
var ErrRegistryFrozen = errors.New("serialization registry already initialized")

// EnumValue is an integer enumeration with string names.
type EnumValue interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32
	fmt.Stringer
}

// Registry collects type converters and builds the BSON registry exactly once.
type Registry struct {
	once   sync.Once
	mu     sync.Mutex
	frozen bool
	enums  map[reflect.Type]*enumTable
	built  *bsoncodec.Registry
}

// New returns an empty, uninitialized registry.
func New() *Registry {
	return &Registry{enums: make(map[reflect.Type]*enumTable)}
}

var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Initialize builds the process-wide registry. See Registry.Initialize.
func Initialize() *bsoncodec.Registry { return defaultRegistry.Initialize() }

// RegisterEnum registers E on the process-wide registry. See RegisterEnumIn.
func RegisterEnum[E EnumValue](values ...E) error {
	return RegisterEnumIn(defaultRegistry, values...)
}

// RegisterEnumIn makes E persist as its String() form in r.
// values lists the members used to map names back on decode. Registration is
// additive and idempotent; after Initialize it fails with ErrRegistryFrozen.
func RegisterEnumIn[E EnumValue](r *Registry, values ...E) error {
	t := reflect.TypeFor[E]()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %v", ErrRegistryFrozen, t)
	}

	tbl, ok := r.enums[t]
	if !ok {
		tbl = newEnumTable(t)
		r.enums[t] = tbl
	}
	for _, v := range values {
		tbl.add(reflect.ValueOf(v), v.String())
	}
	return nil
}

// Initialize builds the BSON registry on first call and returns it.
// Later and concurrent calls return the same registry without rebuilding.
func (r *Registry) Initialize() *bsoncodec.Registry {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.frozen = true
		r.built = r.build()
	})
	return r.built
}

// Initialized reports whether Initialize has run.
func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Enums lists the registered enumeration types by name.
func (r *Registry) Enums() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.enums))
	for t := range r.enums {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return names
}

// Codec returns a codec over the initialized registry.
func (r *Registry) Codec() *Codec { return NewCodec(r.Initialize()) }

func (r *Registry) build() *bsoncodec.Registry {
	reg := bson.NewRegistry()

	tt := reflect.TypeOf(time.Time{})
	tc := bsoncodec.NewTimeCodec(bsonoptions.TimeCodec().SetUseLocalTimeZone(true))
	reg.RegisterTypeEncoder(tt, tc)
	reg.RegisterTypeDecoder(tt, tc)

	for t, tbl := range r.enums {
		reg.RegisterTypeEncoder(t, bsoncodec.ValueEncoderFunc(tbl.encode))
		reg.RegisterTypeDecoder(t, bsoncodec.ValueDecoderFunc(tbl.decode))
	}
	return reg
}
