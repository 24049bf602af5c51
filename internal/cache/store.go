package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrStorage 表示打开/创建缓存文件失败，调用方可据此降级为不缓存直连。
var ErrStorage = errors.New("cache storage unavailable")

// ErrStoreClosed 表示 Store 已关闭。
var ErrStoreClosed = errors.New("cache store closed")

const defaultQueueDepth = 64

// StoreOptions 控制 Store 的可选行为。
type StoreOptions struct {
	Logger     *logrus.Logger
	QueueDepth int
}

// Store 管理单个资源的数据文件与索引 sidecar。
//
// 读操作在 readMu 下串行执行并同步返回；写操作、元数据更新与持久化统一投递给
// 单个 writer goroutine 顺序执行，调用方无需等待。索引与 ContentInfo 只在 writer
// goroutine 中修改，mu 仅用于向读方发布快照。
type Store struct {
	url       string
	dataPath  string
	indexPath string
	logger    *logrus.Logger

	readMu    sync.Mutex
	readFile  *os.File
	writeFile *os.File

	mu    sync.RWMutex
	index *FragmentIndex
	info  *ContentInfo

	queueMu sync.Mutex
	closed  bool
	jobs    chan func()
	done    chan struct{}
}

// Open 为 rawURL 打开（必要时创建）缓存条目，并加载已有索引。
func Open(dir, rawURL string, opts StoreOptions) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage path required", ErrStorage)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create cache dir: %v", ErrStorage, err)
	}
	dataPath, indexPath := EntryPaths(dir, rawURL)

	writeFile, err := os.OpenFile(dataPath, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open data file: %v", ErrStorage, err)
	}
	readFile, err := os.Open(dataPath)
	if err != nil {
		writeFile.Close()
		return nil, fmt.Errorf("%w: open data file: %v", ErrStorage, err)
	}

	s := &Store{
		url:       rawURL,
		dataPath:  dataPath,
		indexPath: indexPath,
		logger:    logger,
		readFile:  readFile,
		writeFile: writeFile,
		index:     &FragmentIndex{},
		jobs:      make(chan func(), depth),
		done:      make(chan struct{}),
	}
	s.load()

	go s.run()
	return s, nil
}

// load 读取 sidecar；索引损坏时从空索引开始，超出数据文件大小的片段会被丢弃。
func (s *Store) load() {
	sc, err := readSidecar(s.indexPath)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "index_load",
			"url":    s.url,
		}).Warn("index_load_failed")
		return
	}
	for _, fragment := range sc.Fragments {
		s.index.Add(fragment)
	}
	if stat, err := s.writeFile.Stat(); err == nil {
		s.index.Clip(stat.Size())
	}
	if sc.Info != nil {
		info := *sc.Info
		s.info = &info
	}
}

func (s *Store) run() {
	defer close(s.done)
	for job := range s.jobs {
		job()
	}
}

// enqueue 把任务交给 writer goroutine，Store 关闭后返回 false。
func (s *Store) enqueue(job func()) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.closed {
		return false
	}
	s.jobs <- job
	return true
}

// URL 返回条目对应的资源地址。
func (s *Store) URL() string {
	return s.url
}

// DataPath 返回数据文件路径。
func (s *Store) DataPath() string {
	return s.dataPath
}

// IndexPath 返回 sidecar 路径。
func (s *Store) IndexPath() string {
	return s.indexPath
}

// Read 同步读取 r 对应的字节，读不满时返回错误。
func (s *Store) Read(r ByteRange) ([]byte, error) {
	if r.IsEmpty() {
		return nil, nil
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()

	buf := make([]byte, r.Length)
	n, err := s.readFile.ReadAt(buf, r.Offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == r.Length) {
		return nil, fmt.Errorf("read cache %s: %w", r, err)
	}
	return buf, nil
}

// Write 异步把 data 写到 offset 处，写入成功后再登记索引。
// Write 接管 data，调用方之后不得再修改它。
func (s *Store) Write(data []byte, offset int64) {
	if len(data) == 0 {
		return
	}
	s.enqueue(func() {
		n, err := s.writeFile.WriteAt(data, offset)
		if n > 0 {
			s.mu.Lock()
			s.index.Add(ByteRange{Offset: offset, Length: int64(n)})
			s.mu.Unlock()
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_write",
				"url":    s.url,
				"offset": offset,
				"length": len(data),
			}).Warn("cache_write_failed")
		}
	})
}

// SetContentInfo 异步记录元数据，并把数据文件截断/扩展到 ContentLength。
func (s *Store) SetContentInfo(info ContentInfo) {
	s.enqueue(func() {
		s.mu.Lock()
		s.info = &info
		if info.ContentLength > 0 {
			s.index.Clip(info.ContentLength)
		}
		s.mu.Unlock()

		if info.ContentLength <= 0 {
			return
		}
		err := s.writeFile.Truncate(info.ContentLength)
		if err == nil {
			err = s.writeFile.Sync()
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_truncate",
				"url":    s.url,
				"length": info.ContentLength,
			}).Warn("cache_truncate_failed")
		}
	})
}

// Persist 异步刷盘数据文件并写入 sidecar。
func (s *Store) Persist() {
	s.enqueue(func() {
		if err := s.persist(); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "persist",
				"url":    s.url,
			}).Warn("persist_failed")
		}
	})
}

func (s *Store) persist() error {
	if err := s.writeFile.Sync(); err != nil {
		return fmt.Errorf("sync data file: %w", err)
	}
	s.mu.RLock()
	sc := sidecar{Fragments: s.index.Fragments()}
	if s.info != nil {
		info := *s.info
		sc.Info = &info
	}
	s.mu.RUnlock()
	if sc.Fragments == nil {
		sc.Fragments = []ByteRange{}
	}
	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0o755); err != nil {
		return err
	}
	return writeSidecar(s.indexPath, sc)
}

// Flush 阻塞直到此前投递的写任务全部执行完毕。
func (s *Store) Flush() {
	barrier := make(chan struct{})
	if !s.enqueue(func() { close(barrier) }) {
		return
	}
	<-barrier
}

// Index 返回当前索引的快照。
func (s *Store) Index() *FragmentIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Clone()
}

// ContentInfo 返回已知的元数据；未知时 ok 为 false。
func (s *Store) ContentInfo() (ContentInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return ContentInfo{}, false
	}
	return *s.info, true
}

// Progress 返回已缓存字节数与资源总长度（未知时为 0）。
func (s *Store) Progress() (downloaded, total int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	downloaded = s.index.DownloadedBytes()
	if s.info != nil && s.info.ContentLength > 0 {
		total = s.info.ContentLength
	}
	return downloaded, total
}

// Close 等待写队列清空，最后持久化一次索引并关闭文件句柄。
func (s *Store) Close() error {
	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return ErrStoreClosed
	}
	s.closed = true
	close(s.jobs)
	s.queueMu.Unlock()

	<-s.done

	err := s.persist()
	if closeErr := s.writeFile.Close(); err == nil {
		err = closeErr
	}
	s.readMu.Lock()
	if closeErr := s.readFile.Close(); err == nil {
		err = closeErr
	}
	s.readMu.Unlock()
	return err
}
