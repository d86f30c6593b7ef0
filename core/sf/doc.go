// Package sf provides a typed single-flight: concurrent calls with the same
// key collapse into one execution, and every caller receives that execution's
// result.
//
// The repository uses it to deduplicate snapshot loads when many readers hit
// the same cold aggregate at once; it fits any expensive lookup that would
// otherwise stampede.
//
//	flights := sf.New[User]()
//
//	user, err := flights.Do("user:123", func() (*User, error) {
//	    return loadUser(ctx, "123")
//	})
//
// The type parameter keeps results cast-free at the call site.
package sf
