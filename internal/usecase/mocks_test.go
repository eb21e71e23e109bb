package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"rxverify-service/internal/domain"
)

// memStore はテスト用のインメモリストア。各リポジトリインターフェースをまとめて実装する。
type memStore struct {
	mu           sync.Mutex
	seq          int
	distributors map[string]*domain.Distributor
	medicines    map[string]*domain.Medicine
	lots         map[string]*domain.LotManifest
	flags        map[string]*domain.CrowdFlag
	receipts     map[string]*domain.ReceiptEvent
	findErr      error
}

func newMemStore() *memStore {
	return &memStore{
		distributors: make(map[string]*domain.Distributor),
		medicines:    make(map[string]*domain.Medicine),
		lots:         make(map[string]*domain.LotManifest),
		flags:        make(map[string]*domain.CrowdFlag),
		receipts:     make(map[string]*domain.ReceiptEvent),
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// distributorRepo は memStore を DistributorRepository として見せる。
type distributorRepo struct{ *memStore }

func (r distributorRepo) Create(ctx context.Context, d *domain.Distributor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == "" {
		d.ID = r.nextID("dist")
	}
	c := *d
	r.distributors[d.ID] = &c
	return nil
}

func (r distributorRepo) FindByID(ctx context.Context, id string) (*domain.Distributor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	d, ok := r.distributors[id]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (r distributorRepo) FindAll(ctx context.Context, filter domain.DistributorFilter) ([]*domain.Distributor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Distributor
	for _, d := range r.distributors {
		if filter.Verified != nil && d.IsVerifiedRegulator != *filter.Verified {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r distributorRepo) Update(ctx context.Context, d *domain.Distributor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *d
	r.distributors[d.ID] = &c
	return nil
}

type medicineRepo struct{ *memStore }

func (r medicineRepo) Create(ctx context.Context, m *domain.Medicine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = r.nextID("med")
	}
	c := *m
	r.medicines[m.ID] = &c
	return nil
}

func (r medicineRepo) FindByID(ctx context.Context, id string) (*domain.Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.medicines[id]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

func (r medicineRepo) FindAll(ctx context.Context, filter domain.MedicineFilter) ([]*domain.Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Medicine
	for _, m := range r.medicines {
		if filter.DistributorID != "" && m.DistributorID != filter.DistributorID {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

type lotRepo struct{ *memStore }

func (r lotRepo) ExistsByBatchNumber(ctx context.Context, batch, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lots {
		if l.BatchNumber == batch && l.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r lotRepo) Create(ctx context.Context, lot *domain.LotManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lot.ID == "" {
		lot.ID = r.nextID("lot")
	}
	c := *lot
	r.lots[lot.ID] = &c
	return nil
}

func (r lotRepo) FindByID(ctx context.Context, id string) (*domain.LotManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	l, ok := r.lots[id]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (r lotRepo) FindAll(ctx context.Context, filter domain.LotFilter) ([]*domain.LotManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LotManifest
	for _, l := range r.lots {
		c := *l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update は trust_score を書き換えない。
func (r lotRepo) Update(ctx context.Context, lot *domain.LotManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.lots[lot.ID]
	c := *lot
	c.TrustScore = cur.TrustScore
	r.lots[lot.ID] = &c
	return nil
}

func (r lotRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lots, id)
	for fid, f := range r.flags {
		if f.LotID == id {
			delete(r.flags, fid)
		}
	}
	return nil
}

func (r lotRepo) RecalculateTrustScore(
	ctx context.Context,
	lotID string,
	score func(ctx context.Context, unresolved []*domain.CrowdFlag) decimal.Decimal,
) (*domain.LotManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot, ok := r.lots[lotID]
	if !ok {
		return nil, nil
	}
	var unresolved []*domain.CrowdFlag
	for _, f := range r.flags {
		if f.LotID == lotID && !f.IsResolved {
			c := *f
			unresolved = append(unresolved, &c)
		}
	}
	lot.TrustScore = score(ctx, unresolved)
	c := *lot
	return &c, nil
}

type flagRepo struct{ *memStore }

func (r flagRepo) Create(ctx context.Context, f *domain.CrowdFlag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lots[f.LotID]; !ok {
		return domain.ErrLotNotFound
	}
	if f.ID == "" {
		f.ID = r.nextID("flag")
	}
	c := *f
	r.flags[f.ID] = &c
	return nil
}

func (r flagRepo) FindByID(ctx context.Context, id string) (*domain.CrowdFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[id]
	if !ok {
		return nil, nil
	}
	c := *f
	return &c, nil
}

func (r flagRepo) FindAll(ctx context.Context, filter domain.FlagFilter) ([]*domain.CrowdFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CrowdFlag
	for _, f := range r.flags {
		if filter.LotID != "" && f.LotID != filter.LotID {
			continue
		}
		if filter.UserID != "" && f.UserID != filter.UserID {
			continue
		}
		if filter.Resolved != nil && f.IsResolved != *filter.Resolved {
			continue
		}
		c := *f
		out = append(out, &c)
	}
	return out, nil
}

func (r flagRepo) Update(ctx context.Context, f *domain.CrowdFlag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *f
	c.LotID = r.flags[f.ID].LotID
	r.flags[f.ID] = &c
	return nil
}

func (r flagRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, id)
	return nil
}

func (r flagRepo) CountUnresolvedByLotID(ctx context.Context, lotID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, f := range r.flags {
		if f.LotID == lotID && !f.IsResolved {
			n++
		}
	}
	return n, nil
}

type receiptRepo struct{ *memStore }

func (r receiptRepo) Create(ctx context.Context, e *domain.ReceiptEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lots[e.LotID]; !ok {
		return domain.ErrLotNotFound
	}
	if e.ID == "" {
		e.ID = r.nextID("receipt")
	}
	c := *e
	r.receipts[e.ID] = &c
	return nil
}

func (r receiptRepo) FindByID(ctx context.Context, id string) (*domain.ReceiptEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.receipts[id]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (r receiptRepo) FindAll(ctx context.Context, filter domain.ReceiptFilter) ([]*domain.ReceiptEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ReceiptEvent
	for _, e := range r.receipts {
		if filter.LotID != "" && e.LotID != filter.LotID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeLocker はロット単位のミューテックス。failures 回だけ競合エラーを返す。
type fakeLocker struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	failures int
	calls    int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *fakeLocker) Lock(ctx context.Context, lotID string) (func(), error) {
	l.mu.Lock()
	l.calls++
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, domain.ErrConcurrencyConflict
	}
	m, ok := l.locks[lotID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[lotID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// fixture はサービス一式を組み立てたテスト環境。
type fixture struct {
	store        *memStore
	locker       *fakeLocker
	engine       *TrustScoreEngine
	distributors *DistributorService
	medicines    *MedicineService
	lots         *LotService
	flags        *FlagService
	verifier     *VerificationService
	receipts     *ReceiptService
}

func newFixture() *fixture {
	store := newMemStore()
	locker := newFakeLocker()
	engine := NewTrustScoreEngine(lotRepo{store}, locker)
	return &fixture{
		store:        store,
		locker:       locker,
		engine:       engine,
		distributors: NewDistributorService(distributorRepo{store}),
		medicines:    NewMedicineService(medicineRepo{store}, distributorRepo{store}),
		lots:         NewLotService(lotRepo{store}, medicineRepo{store}, distributorRepo{store}),
		flags:        NewFlagService(flagRepo{store}, NewFlagHooks(engine)),
		verifier:     NewVerificationService(lotRepo{store}, distributorRepo{store}, flagRepo{store}, 4),
		receipts:     NewReceiptService(receiptRepo{store}, lotRepo{store}),
	}
}
