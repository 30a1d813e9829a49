package tinybase

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type DBFile interface {
	io.ReadSeeker
	io.ReaderAt
	io.WriterAt
	io.Closer
}

const (
	defaultPoolSize  = 64
	defaultReplacerK = 2
)

type bufferPoolConfig struct {
	poolSize   int
	replacerK  int
	registerer prometheus.Registerer
}

type BufferPoolOption func(*bufferPoolConfig)

// WithPoolSize sets the number of frames kept resident.
func WithPoolSize(n int) BufferPoolOption {
	return func(c *bufferPoolConfig) {
		c.poolSize = n
	}
}

// WithReplacerK sets the access history depth of the LRU-K replacer.
func WithReplacerK(k int) BufferPoolOption {
	return func(c *bufferPoolConfig) {
		c.replacerK = k
	}
}

// WithRegisterer registers the pool's counters with a prometheus registry.
func WithRegisterer(registerer prometheus.Registerer) BufferPoolOption {
	return func(c *bufferPoolConfig) {
		c.registerer = registerer
	}
}

// bufferPool keeps a fixed set of frames over the database file. Frames are
// handed out pinned; unpinned frames become eviction candidates for the
// LRU-K replacer. Page 0 is the header page and stays resident for the
// lifetime of the pool, outside the frame table.
type bufferPool[K IndexKey] struct {
	file    DBFile
	logger  *zap.Logger
	metrics *poolMetrics

	mu         sync.Mutex
	frames     []*Page[K]
	pageTable  map[PageID]FrameID
	freeFrames []FrameID
	replacer   *LRUKReplacer
	headerPage *Page[K]
	numPages   int64
}

// NewBufferPool opens the pool over file, creating the header page for an
// empty file and validating it otherwise.
func NewBufferPool[K IndexKey](file DBFile, logger *zap.Logger, opts ...BufferPoolOption) (*bufferPool[K], error) {
	cfg := bufferPoolConfig{
		poolSize:  defaultPoolSize,
		replacerK: defaultReplacerK,
	}
	for _, applyOption := range opts {
		applyOption(&cfg)
	}
	if cfg.poolSize < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", cfg.poolSize)
	}

	fileSize, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek to end: %w", err)
	}
	if fileSize%PageSize != 0 {
		return nil, fmt.Errorf("db file size is not divisible by page size: %d", fileSize)
	}

	p := &bufferPool[K]{
		file:       file,
		logger:     logger,
		metrics:    newPoolMetrics(cfg.registerer),
		frames:     make([]*Page[K], cfg.poolSize),
		pageTable:  make(map[PageID]FrameID, cfg.poolSize),
		freeFrames: make([]FrameID, 0, cfg.poolSize),
		replacer:   NewLRUKReplacer(cfg.poolSize, cfg.replacerK),
		numPages:   fileSize / PageSize,
	}
	for i := 0; i < cfg.poolSize; i++ {
		p.freeFrames = append(p.freeFrames, FrameID(i))
	}

	if p.numPages == 0 {
		p.headerPage = &Page[K]{ID: HeaderPageID, HeaderNode: NewHeaderNode(), isDirty: true}
		p.numPages = 1
		return p, nil
	}

	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read header page: %w", err)
	}
	aNode := &HeaderNode{}
	if err := aNode.Unmarshal(buf); err != nil {
		return nil, err
	}
	if aNode.PageSize != PageSize {
		return nil, fmt.Errorf("%w: file %d, configured %d", ErrPageSizeMismatch, aNode.PageSize, PageSize)
	}
	p.headerPage = &Page[K]{ID: HeaderPageID, HeaderNode: aNode}
	return p, nil
}

// FetchPage returns the page pinned, reading it from disk on a miss.
func (p *bufferPool[K]) FetchPage(ctx context.Context, pageID PageID) (*Page[K], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pageID == HeaderPageID {
		p.headerPage.pinCount += 1
		p.metrics.hits.Inc()
		return p.headerPage, nil
	}

	if frameID, ok := p.pageTable[pageID]; ok {
		aPage := p.frames[frameID]
		aPage.pinCount += 1
		p.replacer.RecordAccess(frameID)
		p.replacer.SetEvictable(frameID, false)
		p.metrics.hits.Inc()
		return aPage, nil
	}

	if pageID <= HeaderPageID || int64(pageID) >= p.numPages {
		return nil, fmt.Errorf("%w: page %d", ErrPageNotFound, pageID)
	}

	frameID, err := p.allocFrame()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(pageID)*PageSize); err != nil {
		p.freeFrames = append(p.freeFrames, frameID)
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}
	aPage := &Page[K]{ID: pageID}
	if err := aPage.Unmarshal(buf); err != nil {
		p.freeFrames = append(p.freeFrames, frameID)
		return nil, err
	}
	if aPage.FreeNode != nil {
		p.freeFrames = append(p.freeFrames, frameID)
		return nil, fmt.Errorf("%w: page %d was freed", ErrPageNotFound, pageID)
	}
	aPage.pinCount = 1
	p.frames[frameID] = aPage
	p.pageTable[pageID] = frameID
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)
	p.metrics.misses.Inc()
	return aPage, nil
}

// NewPage allocates a fresh page id (recycling the free chain first) and
// returns an empty page pinned and dirty. The caller attaches the node.
func (p *bufferPool[K]) NewPage(ctx context.Context) (*Page[K], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameID, err := p.allocFrame()
	if err != nil {
		return nil, err
	}

	var pageID PageID
	aHeader := p.headerPage.HeaderNode
	if aHeader.FirstFreePage != InvalidPageID {
		pageID = aHeader.FirstFreePage
		buf := make([]byte, PageSize)
		if _, err := p.file.ReadAt(buf, int64(pageID)*PageSize); err != nil {
			p.freeFrames = append(p.freeFrames, frameID)
			return nil, fmt.Errorf("read free page %d: %w", pageID, err)
		}
		aFree := &FreeNode{}
		if err := aFree.Unmarshal(buf); err != nil {
			p.freeFrames = append(p.freeFrames, frameID)
			return nil, err
		}
		aHeader.FirstFreePage = aFree.Next
		p.headerPage.isDirty = true
	} else {
		pageID = PageID(p.numPages)
		p.numPages += 1
	}

	aPage := &Page[K]{ID: pageID, pinCount: 1, isDirty: true}
	p.frames[frameID] = aPage
	p.pageTable[pageID] = frameID
	p.replacer.RecordAccess(frameID)
	p.replacer.SetEvictable(frameID, false)

	p.logger.Sugar().With("page_id", int64(pageID)).Debug("allocated page")
	return aPage, nil
}

// UnpinPage drops one pin; when the count reaches zero the frame becomes an
// eviction candidate.
func (p *bufferPool[K]) UnpinPage(pageID PageID, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pageID == HeaderPageID {
		if p.headerPage.pinCount == 0 {
			return fmt.Errorf("%w: header page", ErrPageNotPinned)
		}
		p.headerPage.pinCount -= 1
		p.headerPage.isDirty = p.headerPage.isDirty || isDirty
		return nil
	}

	frameID, ok := p.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, pageID)
	}
	aPage := p.frames[frameID]
	if aPage.pinCount == 0 {
		return fmt.Errorf("%w: page %d", ErrPageNotPinned, pageID)
	}
	aPage.pinCount -= 1
	aPage.isDirty = aPage.isDirty || isDirty
	if aPage.pinCount == 0 {
		p.replacer.SetEvictable(frameID, true)
	}
	return nil
}

// DeletePage frees an unpinned page back to the on-disk free chain.
func (p *bufferPool[K]) DeletePage(pageID PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pageID == HeaderPageID {
		return fmt.Errorf("cannot delete the header page")
	}

	if frameID, ok := p.pageTable[pageID]; ok {
		aPage := p.frames[frameID]
		if aPage.pinCount > 0 {
			return fmt.Errorf("%w: page %d has pin count %d", ErrPagePinned, pageID, aPage.pinCount)
		}
		p.replacer.Remove(frameID)
		p.frames[frameID] = nil
		p.freeFrames = append(p.freeFrames, frameID)
		delete(p.pageTable, pageID)
	}

	aHeader := p.headerPage.HeaderNode
	aFree := &FreeNode{Next: aHeader.FirstFreePage}
	buf := make([]byte, PageSize)
	aFree.Marshal(buf)
	if _, err := p.file.WriteAt(buf, int64(pageID)*PageSize); err != nil {
		return fmt.Errorf("write free page %d: %w", pageID, err)
	}
	aHeader.FirstFreePage = pageID
	p.headerPage.isDirty = true

	p.logger.Sugar().With("page_id", int64(pageID)).Debug("deleted page")
	return nil
}

// FlushPage writes a resident page to disk regardless of its pin count.
func (p *bufferPool[K]) FlushPage(ctx context.Context, pageID PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pageID == HeaderPageID {
		return p.writePage(p.headerPage)
	}
	frameID, ok := p.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, pageID)
	}
	return p.writePage(p.frames[frameID])
}

// FlushAll writes the header page and every dirty resident page.
func (p *bufferPool[K]) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.headerPage.isDirty {
		if err := p.writePage(p.headerPage); err != nil {
			return err
		}
	}
	for _, aPage := range p.frames {
		if aPage == nil || !aPage.isDirty {
			continue
		}
		if err := p.writePage(aPage); err != nil {
			return err
		}
	}
	return nil
}

func (p *bufferPool[K]) Close(ctx context.Context) error {
	if err := p.FlushAll(ctx); err != nil {
		return err
	}
	return p.file.Close()
}

// allocFrame pops a free frame, evicting a victim through the replacer when
// none is left. Dirty victims are written back first. Callers hold the lock.
func (p *bufferPool[K]) allocFrame() (FrameID, error) {
	if len(p.freeFrames) > 0 {
		frameID := p.freeFrames[len(p.freeFrames)-1]
		p.freeFrames = p.freeFrames[:len(p.freeFrames)-1]
		return frameID, nil
	}
	frameID, ok := p.replacer.Evict()
	if !ok {
		return -1, ErrBufferPoolFull
	}
	victim := p.frames[frameID]
	if victim.isDirty {
		if err := p.writePage(victim); err != nil {
			return -1, err
		}
	}
	delete(p.pageTable, victim.ID)
	p.frames[frameID] = nil
	p.metrics.evictions.Inc()
	p.logger.Sugar().With("page_id", int64(victim.ID), "frame_id", int(frameID)).Debug("evicted frame")
	return frameID, nil
}

func (p *bufferPool[K]) writePage(aPage *Page[K]) error {
	buf := make([]byte, PageSize)
	if err := aPage.Marshal(buf); err != nil {
		return err
	}
	if _, err := p.file.WriteAt(buf, int64(aPage.ID)*PageSize); err != nil {
		return fmt.Errorf("write page %d: %w", aPage.ID, err)
	}
	aPage.isDirty = false
	p.metrics.flushes.Inc()
	return nil
}

// pinCount reports the current pin count of a page, 0 if not resident.
func (p *bufferPool[K]) pinCount(pageID PageID) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pageID == HeaderPageID {
		return p.headerPage.pinCount
	}
	if frameID, ok := p.pageTable[pageID]; ok {
		return p.frames[frameID].pinCount
	}
	return 0
}
