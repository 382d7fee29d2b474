package db

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gate-console/pkg/errcode"
	"gate-console/pkg/model"
)

// routeRecord stores a rule as a JSON document; method+url are lifted out so
// the database can enforce uniqueness.
type routeRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Method    string `gorm:"size:8;uniqueIndex:idx_route_method_url"`
	URL       string `gorm:"size:255;uniqueIndex:idx_route_method_url"`
	Doc       []byte `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (routeRecord) TableName() string { return "gate_routes" }

type clusterRecord struct {
	Name        string `gorm:"primaryKey;size:128"`
	Description string
	BackendNum  int
}

func (clusterRecord) TableName() string { return "gate_clusters" }

type pluginRecord struct {
	Name    string `gorm:"primaryKey;size:128"`
	Version string `gorm:"size:32"`
	Private bool
}

func (pluginRecord) TableName() string { return "gate_plugins" }

type auditRecord struct {
	ID        uint `gorm:"primaryKey"`
	Actor     string
	Action    string `gorm:"size:64"`
	Target    string
	Detail    string `gorm:"type:text"`
	Timestamp time.Time
}

func (auditRecord) TableName() string { return "gate_audit" }

func toRecord(r model.RouteRule) (routeRecord, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return routeRecord{}, err
	}
	return routeRecord{ID: r.ID, Method: r.Method, URL: r.URL, Doc: doc}, nil
}

func fromRecord(rec routeRecord) (model.RouteRule, error) {
	var r model.RouteRule
	if err := json.Unmarshal(rec.Doc, &r); err != nil {
		return r, err
	}
	r.ID = rec.ID
	return r, nil
}

// GormStore is a MySQL backed route store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SeedPlugins registers plugins that are not yet present.
func (s *GormStore) SeedPlugins(plugins []model.Plugin) error {
	for _, p := range plugins {
		rec := pluginRecord{Name: p.Name, Version: p.Version, Private: p.Private}
		if err := s.db.Where(pluginRecord{Name: p.Name}).FirstOrCreate(&rec).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) ListRoutes() ([]model.RouteRule, error) {
	var recs []routeRecord
	if err := s.db.Order("created_at").Find(&recs).Error; err != nil {
		return nil, errcode.StoreFailed.Withf("list routes: %v", err)
	}
	out := make([]model.RouteRule, 0, len(recs))
	for _, rec := range recs {
		r, err := fromRecord(rec)
		if err != nil {
			return nil, errcode.StoreFailed.Withf("decode route %s: %v", rec.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *GormStore) find(tx *gorm.DB, key model.Key) (routeRecord, bool, error) {
	var rec routeRecord
	q := tx
	if key.ID != "" {
		q = q.Where("id = ?", key.ID)
	} else {
		q = q.Where("method = ? AND url = ?", key.Method, key.URL)
	}
	err := q.Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, false, nil
	}
	return rec, err == nil, err
}

func (s *GormStore) GetRoute(key model.Key) (model.RouteRule, bool, error) {
	rec, ok, err := s.find(s.db, key)
	if err != nil || !ok {
		return model.RouteRule{}, ok, err
	}
	r, err := fromRecord(rec)
	return r, err == nil, err
}

func (s *GormStore) CreateRoute(r model.RouteRule) (model.RouteRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, ok, err := s.find(tx, model.Key{Method: r.Method, URL: r.URL}); err != nil {
			return err
		} else if ok {
			return errcode.APIAlreadyExist.Withf("api %s %s already exists", r.Method, r.URL)
		}
		rec, err := toRecord(r)
		if err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	return r, storeErr("create route", err)
}

func (s *GormStore) UpdateRoute(key model.Key, r model.RouteRule) (model.RouteRule, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		cur, ok, err := s.find(tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return errcode.APINotFound.Withf("api %s not found", key)
		}
		other, ok, err := s.find(tx, model.Key{Method: r.Method, URL: r.URL})
		if err != nil {
			return err
		}
		if ok && other.ID != cur.ID {
			return errcode.APIAlreadyExist.Withf("api %s %s already exists", r.Method, r.URL)
		}
		r.ID = cur.ID
		rec, err := toRecord(r)
		if err != nil {
			return err
		}
		return tx.Model(&routeRecord{ID: cur.ID}).Updates(map[string]interface{}{
			"method": rec.Method,
			"url":    rec.URL,
			"doc":    rec.Doc,
		}).Error
	})
	return r, storeErr("update route", err)
}

func (s *GormStore) DeleteRoute(key model.Key) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		cur, ok, err := s.find(tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return errcode.APINotFound.Withf("api %s not found", key)
		}
		return tx.Delete(&routeRecord{}, "id = ?", cur.ID).Error
	})
	return storeErr("delete route", err)
}

func (s *GormStore) ListClusters() ([]model.Cluster, error) {
	var recs []clusterRecord
	if err := s.db.Order("name").Find(&recs).Error; err != nil {
		return nil, errcode.StoreFailed.Withf("list clusters: %v", err)
	}
	routes, err := s.ListRoutes()
	if err != nil {
		return nil, err
	}
	used := map[string]bool{}
	for _, r := range routes {
		for _, n := range r.NodeGroup {
			used[n.Cluster] = true
		}
	}
	out := make([]model.Cluster, 0, len(recs))
	for _, c := range recs {
		out = append(out, model.Cluster{Name: c.Name, Description: c.Description, BackendNum: c.BackendNum, Exist: used[c.Name]})
	}
	return out, nil
}

func (s *GormStore) AddCluster(c model.Cluster) error {
	if c.Name == "" {
		return errcode.ClusterNameEmpty
	}
	rec := clusterRecord{Name: c.Name, Description: c.Description, BackendNum: c.BackendNum}
	res := s.db.Where(clusterRecord{Name: c.Name}).FirstOrCreate(&rec)
	if res.Error != nil {
		return errcode.StoreFailed.Withf("add cluster: %v", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.ClusterAlreadyExist.Withf("cluster %s already exists", c.Name)
	}
	return nil
}

func (s *GormStore) ListPlugins() ([]model.Plugin, error) {
	var recs []pluginRecord
	if err := s.db.Order("name").Find(&recs).Error; err != nil {
		return nil, errcode.StoreFailed.Withf("list plugins: %v", err)
	}
	out := make([]model.Plugin, 0, len(recs))
	for _, p := range recs {
		out = append(out, model.Plugin{Name: p.Name, Version: p.Version, Private: p.Private})
	}
	return out, nil
}

func (s *GormStore) RegisterPlugin(p model.Plugin) error {
	rec := pluginRecord{Name: p.Name, Version: p.Version, Private: p.Private}
	res := s.db.Where(pluginRecord{Name: p.Name}).FirstOrCreate(&rec)
	if res.Error != nil {
		return errcode.StoreFailed.Withf("register plugin: %v", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.PluginAlreadyExist.Withf("plugin %s already exists", p.Name)
	}
	return nil
}

func (s *GormStore) AppendAudit(entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	rec := auditRecord{Actor: entry.Actor, Action: entry.Action, Target: entry.Target, Detail: entry.Detail, Timestamp: entry.Timestamp}
	return s.db.Create(&rec).Error
}

func (s *GormStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	var recs []auditRecord
	q := s.db.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, len(recs))
	// oldest first, like the other stores
	for i, rec := range recs {
		out[len(recs)-1-i] = model.AuditEntry{Actor: rec.Actor, Action: rec.Action, Target: rec.Target, Detail: rec.Detail, Timestamp: rec.Timestamp}
	}
	return out, nil
}

// Ping checks the connection pool.
func (s *GormStore) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// storeErr passes coded errors through and codes everything else as StoreFailed.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *errcode.Error
	if errors.As(err, &ce) {
		return err
	}
	return errcode.StoreFailed.Withf("%s: %v", op, err)
}
