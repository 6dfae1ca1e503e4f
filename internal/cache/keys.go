package cache

const (
	// KeyPrefixBook is the prefix for cached books by id
	KeyPrefixBook = "bookshop:book:"
	// KeyTags holds the cached distinct tag list
	KeyTags = "bookshop:tags"
)

// BookKey returns the Redis key for a cached book.
func BookKey(id string) string {
	return KeyPrefixBook + id
}

// TagsKey returns the key of the cached tag list.
func TagsKey() string {
	return KeyTags
}
