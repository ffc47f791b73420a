// Package repotest provides in-memory implementations of the repository
// interfaces for tests.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
)

// Store holds all tables in memory. The zero value is not usable; call NewStore.
type Store struct {
	mu          sync.Mutex
	nextID      uint
	clock       time.Time
	failures    map[string]error
	profiles    map[uint]*models.Profile
	packs       map[models.ProductLine]map[uint]*models.Pack
	sales       map[models.ProductLine]map[uint]*models.Sale
	melodies    map[uint]*models.Melody
	agreements  map[uint]*models.CollaborationAgreement
	revocations []models.LicenseRevocation
	follows     map[[2]uint]*models.ProducerFollow
	categories  map[uint]*models.Category
}

func NewStore() *Store {
	return &Store{
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		failures:   map[string]error{},
		profiles:   map[uint]*models.Profile{},
		packs:      map[models.ProductLine]map[uint]*models.Pack{models.LinePack: {}, models.LineSamplePack: {}},
		sales:      map[models.ProductLine]map[uint]*models.Sale{models.LinePack: {}, models.LineSamplePack: {}},
		melodies:   map[uint]*models.Melody{},
		agreements: map[uint]*models.CollaborationAgreement{},
		follows:    map[[2]uint]*models.ProducerFollow{},
		categories: map[uint]*models.Category{},
	}
}

// Repositories returns repository views backed by this store.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Profile:   &ProfileRepo{s},
		Pack:      &PackRepo{s},
		Sale:      &SaleRepo{s},
		Melody:    &MelodyRepo{s},
		Agreement: &AgreementRepo{s},
		Follow:    &FollowRepo{s},
		Category:  &CategoryRepo{s},
	}
}

// FailOn makes the named method (e.g. "Profile.UpdateSubscription") return err until cleared with nil.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) fail(method string) error {
	return s.failures[method]
}

// tick returns a strictly increasing timestamp so listings have a stable order.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// Revocations returns a copy of the revocation history.
func (s *Store) Revocations() []models.LicenseRevocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LicenseRevocation(nil), s.revocations...)
}

// SaleCount returns the number of ledger rows on line.
func (s *Store) SaleCount(line models.ProductLine) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sales[line])
}

func paginate[T any](items []T, page repository.Page) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

type ProfileRepo struct{ s *Store }

func (r *ProfileRepo) Create(_ context.Context, p *models.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profile.Create"); err != nil {
		return err
	}
	if p.ID == 0 {
		p.ID = r.s.id()
	}
	if p.Role == "" {
		p.Role = models.ROLE_FREE
	}
	if p.SubscriptionStatus == "" {
		p.SubscriptionStatus = models.SubscriptionStatusNone
	}
	p.CreatedAt = r.s.tick()
	cp := *p
	r.s.profiles[p.ID] = &cp
	return nil
}

func (r *ProfileRepo) GetByID(_ context.Context, id uint) (*models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profile.GetByID"); err != nil {
		return nil, err
	}
	p, ok := r.s.profiles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *ProfileRepo) GetByStripeCustomerID(_ context.Context, customerID string) (*models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profile.GetByStripeCustomerID"); err != nil {
		return nil, err
	}
	for _, p := range r.s.profiles {
		if customerID != "" && p.StripeCustomerID == customerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ProfileRepo) UpdateFields(_ context.Context, id uint, fields map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profile.UpdateFields"); err != nil {
		return err
	}
	p, ok := r.s.profiles[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if name, ok := fields["username"].(string); ok {
		for _, other := range r.s.profiles {
			if other.ID != id && strings.EqualFold(other.Username, name) {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	cp := *p
	if err := setProfileColumns(&cp, fields); err != nil {
		return err
	}
	r.s.profiles[id] = &cp
	return nil
}

func (r *ProfileRepo) UpdateSubscription(_ context.Context, id uint, status string, fields map[string]interface{}, from ...string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profile.UpdateSubscription"); err != nil {
		return false, err
	}
	p, ok := r.s.profiles[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 && !contains(from, p.SubscriptionStatus) {
		return false, nil
	}
	cp := *p
	cp.ApplySubscriptionStatus(status)
	if err := setProfileColumns(&cp, fields); err != nil {
		return false, err
	}
	r.s.profiles[id] = &cp
	return true, nil
}

func (r *ProfileRepo) SetAdmin(_ context.Context, id uint, admin bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Profile.SetAdmin"); err != nil {
		return err
	}
	p, ok := r.s.profiles[id]
	if !ok {
		return nil
	}
	switch {
	case admin:
		p.Role = models.ROLE_ADMIN
	case p.Role == models.ROLE_ADMIN:
		p.Role = p.BillingRole()
	}
	return nil
}

// setProfileColumns mirrors a column-scoped UPDATE on the in-memory row.
func setProfileColumns(p *models.Profile, fields map[string]interface{}) error {
	for col, v := range fields {
		switch col {
		case "username":
			p.Username = v.(string)
		case "bio":
			p.Bio = v.(string)
		case "avatar_url":
			p.AvatarURL = v.(string)
		case "paypal_email":
			p.PaypalEmail = v.(string)
		case "stripe_account_id":
			p.StripeAccountID = v.(string)
		case "stripe_customer_id":
			p.StripeCustomerID = v.(string)
		case "subscription_id":
			p.SubscriptionID = v.(string)
		case "trial_end":
			p.TrialEnd = timeColumn(v)
		case "cancel_at":
			p.CancelAt = timeColumn(v)
		default:
			return fmt.Errorf("repotest: unknown profile column %q", col)
		}
	}
	return nil
}

func timeColumn(v interface{}) *time.Time {
	switch t := v.(type) {
	case *time.Time:
		if t == nil {
			return nil
		}
		cp := *t
		return &cp
	case time.Time:
		return &t
	default:
		return nil
	}
}

func (r *ProfileRepo) List(_ context.Context, query string, page repository.Page) ([]models.Profile, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Profile
	for _, p := range r.s.profiles {
		if query == "" || containsFold(p.Username, query) || containsFold(p.Email, query) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, page), int64(len(out)), nil
}

type PackRepo struct{ s *Store }

func (r *PackRepo) Create(_ context.Context, line models.ProductLine, p *models.Pack) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == 0 {
		p.ID = r.s.id()
	}
	p.CreatedAt = r.s.tick()
	cp := *p
	r.s.packs[line][p.ID] = &cp
	return nil
}

func (r *PackRepo) GetByID(_ context.Context, line models.ProductLine, id uint) (*models.Pack, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.packs[line][id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PackRepo) List(_ context.Context, line models.ProductLine, f repository.PackFilter, page repository.Page) ([]models.Pack, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Pack
	for _, p := range r.s.packs[line] {
		if f.Search != "" && !containsFold(p.Title, f.Search) && !containsFold(p.Description, f.Search) {
			continue
		}
		if f.CategoryID != 0 && (p.CategoryID == nil || *p.CategoryID != f.CategoryID) {
			continue
		}
		if f.ProducerID != 0 && p.ProducerID != f.ProducerID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), int64(len(out)), nil
}

func (r *PackRepo) CountByProducer(_ context.Context, line models.ProductLine, producerID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, p := range r.s.packs[line] {
		if p.ProducerID == producerID {
			n++
		}
	}
	return n, nil
}

type SaleRepo struct{ s *Store }

func (r *SaleRepo) Create(_ context.Context, line models.ProductLine, sale *models.Sale) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Sale.Create"); err != nil {
		return err
	}
	sale.ID = r.s.id()
	sale.CreatedAt = r.s.tick()
	cp := *sale
	r.s.sales[line][sale.ID] = &cp
	return nil
}

func (r *SaleRepo) GetByID(_ context.Context, line models.ProductLine, id uint) (*models.Sale, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sale, ok := r.s.sales[line][id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sale
	return &cp, nil
}

func (r *SaleRepo) GetByProviderTransactionID(_ context.Context, line models.ProductLine, ref string) (*models.Sale, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sale := range r.s.sales[line] {
		if ref != "" && sale.ProviderTransactionID != nil && *sale.ProviderTransactionID == ref {
			cp := *sale
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *SaleRepo) SetProviderTransactionID(_ context.Context, line models.ProductLine, id uint, ref string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sale, ok := r.s.sales[line][id]
	if !ok || sale.Status != models.SaleStatusPending {
		return gorm.ErrRecordNotFound
	}
	v := ref
	sale.ProviderTransactionID = &v
	return nil
}

func (r *SaleRepo) HasCompleted(_ context.Context, line models.ProductLine, buyerID, itemID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sale := range r.s.sales[line] {
		if sale.BuyerID == buyerID && sale.ItemID == itemID && sale.Status == models.SaleStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *SaleRepo) TransitionStatus(_ context.Context, line models.ProductLine, id uint, from []string, to string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Sale.TransitionStatus"); err != nil {
		return false, err
	}
	sale, ok := r.s.sales[line][id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if sale.Status == f {
			sale.Status = to
			sale.UpdatedAt = at
			switch to {
			case models.SaleStatusCompleted:
				sale.CompletedAt = &at
			case models.SaleStatusRefunded:
				sale.RefundedAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *SaleRepo) ListByBuyer(_ context.Context, line models.ProductLine, buyerID uint, f repository.SaleFilter, page repository.Page) ([]models.Sale, int64, error) {
	return r.list(line, func(s *models.Sale) bool { return s.BuyerID == buyerID }, f, page)
}

func (r *SaleRepo) ListByProducer(_ context.Context, line models.ProductLine, producerID uint, f repository.SaleFilter, page repository.Page) ([]models.Sale, int64, error) {
	return r.list(line, func(s *models.Sale) bool { return s.ProducerID == producerID }, f, page)
}

func (r *SaleRepo) list(line models.ProductLine, owner func(*models.Sale) bool, f repository.SaleFilter, page repository.Page) ([]models.Sale, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Sale
	for _, sale := range r.s.sales[line] {
		if !owner(sale) {
			continue
		}
		if f.Status != "" && sale.Status != f.Status {
			continue
		}
		if f.From != nil && sale.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !sale.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, *sale)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, page), int64(len(out)), nil
}

func (r *SaleRepo) TotalsByProducer(_ context.Context, line models.ProductLine, producerID uint) (*repository.SaleTotals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	totals := &repository.SaleTotals{}
	for _, sale := range r.s.sales[line] {
		if sale.ProducerID != producerID || sale.Status != models.SaleStatusCompleted {
			continue
		}
		totals.Count++
		totals.Gross += sale.GrossAmount
		totals.Commission += sale.CommissionAmount
		totals.Net += sale.NetAmount
	}
	return totals, nil
}

type MelodyRepo struct{ s *Store }

func (r *MelodyRepo) Create(_ context.Context, m *models.Melody) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == 0 {
		m.ID = r.s.id()
	}
	m.CreatedAt = r.s.tick()
	cp := *m
	r.s.melodies[m.ID] = &cp
	return nil
}

func (r *MelodyRepo) GetByID(_ context.Context, id uint) (*models.Melody, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.melodies[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MelodyRepo) List(_ context.Context, f repository.MelodyFilter, page repository.Page) ([]models.Melody, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Melody
	for _, m := range r.s.melodies {
		if f.Search != "" && !containsFold(m.Title, f.Search) {
			continue
		}
		if f.Genre != "" && !strings.EqualFold(m.Genre, f.Genre) {
			continue
		}
		if f.ProducerID != 0 && m.ProducerID != f.ProducerID {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), int64(len(out)), nil
}

func (r *MelodyRepo) CountByProducer(_ context.Context, producerID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, m := range r.s.melodies {
		if m.ProducerID == producerID {
			n++
		}
	}
	return n, nil
}

func (r *MelodyRepo) IncrementDownloads(_ context.Context, id uint, by int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Melody.IncrementDownloads"); err != nil {
		return err
	}
	if m, ok := r.s.melodies[id]; ok {
		m.DownloadCount += by
	}
	return nil
}

type AgreementRepo struct{ s *Store }

func (r *AgreementRepo) Create(_ context.Context, a *models.CollaborationAgreement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == 0 {
		a.ID = r.s.id()
	}
	if a.Status == "" {
		a.Status = models.AgreementStatusActive
	}
	a.CreatedAt = r.s.tick()
	cp := *a
	r.s.agreements[a.ID] = &cp
	return nil
}

func (r *AgreementRepo) GetByTransactionID(_ context.Context, txID string) (*models.CollaborationAgreement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.agreements {
		if a.TransactionID == txID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *AgreementRepo) FindActive(_ context.Context, melodyID, collaboratorID uint) (*models.CollaborationAgreement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.agreements {
		if a.MelodyID == melodyID && a.CollaboratorID == collaboratorID && a.IsActive() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *AgreementRepo) MarkRevoked(_ context.Context, id uint, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Agreement.MarkRevoked"); err != nil {
		return false, err
	}
	a, ok := r.s.agreements[id]
	if !ok || !a.IsActive() {
		return false, nil
	}
	a.Status = models.AgreementStatusRevoked
	a.RevokedAt = &at
	return true, nil
}

func (r *AgreementRepo) AppendRevocation(_ context.Context, entry *models.LicenseRevocation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Agreement.AppendRevocation"); err != nil {
		return err
	}
	entry.ID = r.s.id()
	entry.CreatedAt = r.s.tick()
	r.s.revocations = append(r.s.revocations, *entry)
	return nil
}

func (r *AgreementRepo) ListRevocations(_ context.Context, txID string) ([]models.LicenseRevocation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.LicenseRevocation
	for _, e := range r.s.revocations {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *AgreementRepo) CountByProducer(_ context.Context, producerID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, a := range r.s.agreements {
		if a.ProducerID == producerID && a.IsActive() {
			n++
		}
	}
	return n, nil
}

type FollowRepo struct{ s *Store }

func (r *FollowRepo) Exists(_ context.Context, followerID, producerID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.follows[[2]uint{followerID, producerID}]
	return ok, nil
}

func (r *FollowRepo) Create(_ context.Context, f *models.ProducerFollow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]uint{f.FollowerID, f.ProducerID}
	if _, ok := r.s.follows[key]; ok {
		return nil
	}
	f.ID = r.s.id()
	f.CreatedAt = r.s.tick()
	cp := *f
	r.s.follows[key] = &cp
	return nil
}

func (r *FollowRepo) Delete(_ context.Context, followerID, producerID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]uint{followerID, producerID}
	if _, ok := r.s.follows[key]; !ok {
		return false, nil
	}
	delete(r.s.follows, key)
	return true, nil
}

func (r *FollowRepo) CountFollowers(_ context.Context, producerID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for key := range r.s.follows {
		if key[1] == producerID {
			n++
		}
	}
	return n, nil
}

type CategoryRepo struct{ s *Store }

// AddCategory inserts a category directly.
func (s *Store) AddCategory(c models.Category) *models.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	s.categories[c.ID] = &c
	return &c
}

func (r *CategoryRepo) List(_ context.Context) ([]models.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Category, 0, len(r.s.categories))
	for _, c := range r.s.categories {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *CategoryRepo) GetByID(_ context.Context, id uint) (*models.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.categories[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}
