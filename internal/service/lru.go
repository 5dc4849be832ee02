package service

import (
	"container/list"
	"sync"
	"unsafe"

	"github.com/goinginblind/scribe/internal/domain"
)

// cacheEntry is a container that stores the order and its key, its used by cache
type cacheEntry struct {
	key   int64
	value *domain.Order
}

// LRUCache holds up to entryCountCap orders, orders bigger than
// entrySizeCap bytes are never cached.
type LRUCache struct {
	mu             sync.Mutex
	entryCountCap  int
	entrySizeCap   int
	currEntryCount int
	items          map[int64]*list.Element
	evictList      *list.List
}

func NewLRUCache(entryCountCap, entrySizeCap int) *LRUCache {
	return &LRUCache{
		entryCountCap: entryCountCap,
		entrySizeCap:  entrySizeCap,
		items:         make(map[int64]*list.Element),
		evictList:     list.New(),
	}
}

// Get returns a copy of the cached order, callers may mutate it freely.
func (c *LRUCache) Get(key int64) (*domain.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok {
		c.evictList.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value.Clone(), true
	}

	return nil, false
}

func (c *LRUCache) Insert(value *domain.Order) {
	if value == nil || orderSize(value) > c.entrySizeCap {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := value.ID
	if elem, ok := c.items[key]; ok {
		c.evictList.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value.Clone()
		return
	}

	elem := c.evictList.PushFront(&cacheEntry{key, value.Clone()})
	c.items[key] = elem
	c.currEntryCount++

	for c.currEntryCount > c.entryCountCap {
		c.removeOldest()
	}
}

// Len is the number of cached orders.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currEntryCount
}

// removeOldest is a helper function which deletes the LRU entry
// from the cache, pops the linked list from the back
func (c *LRUCache) removeOldest() {
	elem := c.evictList.Back()
	if elem != nil {
		entry := c.evictList.Remove(elem).(*cacheEntry)
		delete(c.items, entry.key)
		c.currEntryCount--
	}
}

// orderSize approximates the memory an order holds: the struct itself
// plus the bytes behind its strings and pointers.
func orderSize(o *domain.Order) int {
	size := int(unsafe.Sizeof(*o))
	size += len(o.Topic) + len(o.CustomerEmail) + len(o.PaymentInitiationRef)
	if o.Content != nil {
		size += int(unsafe.Sizeof(*o.Content)) + len(*o.Content)
	}
	if o.PaymentReference != nil {
		size += int(unsafe.Sizeof(*o.PaymentReference)) + len(*o.PaymentReference)
	}
	if o.APICost != nil {
		size += int(unsafe.Sizeof(*o.APICost))
	}
	return size
}
