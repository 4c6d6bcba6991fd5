package shipments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cachemocks "github.com/BearBump/TrackHub/internal/cache/mocks"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	shipmentsmocks "github.com/BearBump/TrackHub/internal/services/shipments/mocks"
)

type ServiceSuite struct {
	suite.Suite

	repo  *shipmentsmocks.MockRepository
	cache *cachemocks.MockBytesCache
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &shipmentsmocks.MockRepository{}
	s.cache = &cachemocks.MockBytesCache{}
	s.svc = New(s.repo, s.cache, 10*time.Minute)
}

func (s *ServiceSuite) TestGet_CacheHit_NoDB() {
	b, _ := json.Marshal(models.ShipmentTracking{ID: "s1", TrackingNumber: "TRACK123", Status: models.StatusInTransit})
	s.cache.On("Get", mock.Anything, "shipment:TRACK123:current").Return(b, true, nil).Once()

	out, err := s.svc.GetByTrackingNumber(context.Background(), " TRACK123 ")
	s.Require().NoError(err)
	s.Require().Equal("s1", out.ID)

	// БД не трогаем
	s.repo.AssertNotCalled(s.T(), "GetShipmentByTrackingNumber", mock.Anything, mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGet_CacheMiss_LoadsAndSets() {
	s.cache.On("Get", mock.Anything, "shipment:TRACK123:current").Return([]byte(nil), false, nil).Once()
	s.repo.On("GetShipmentByTrackingNumber", mock.Anything, "TRACK123").
		Return(&models.ShipmentTracking{ID: "s1", TrackingNumber: "TRACK123"}, nil).
		Once()
	// ошибка Set игнорируется
	s.cache.On("Set", mock.Anything, "shipment:TRACK123:current", mock.Anything, 10*time.Minute).
		Return(errors.New("set failed")).
		Once()

	out, err := s.svc.GetByTrackingNumber(context.Background(), "TRACK123")
	s.Require().NoError(err)
	s.Require().Equal("s1", out.ID)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGet_CacheErrorOrBadJSON_IsMiss() {
	s.cache.On("Get", mock.Anything, "shipment:A:current").Return([]byte(nil), false, errors.New("redis down")).Once()
	s.cache.On("Get", mock.Anything, "shipment:B:current").Return([]byte("not-json"), true, nil).Once()
	s.repo.On("GetShipmentByTrackingNumber", mock.Anything, "A").Return(&models.ShipmentTracking{ID: "a"}, nil).Once()
	s.repo.On("GetShipmentByTrackingNumber", mock.Anything, "B").Return(&models.ShipmentTracking{ID: "b"}, nil).Once()
	s.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, 10*time.Minute).Return(nil).Twice()

	a, err := s.svc.GetByTrackingNumber(context.Background(), "A")
	s.Require().NoError(err)
	s.Require().Equal("a", a.ID)
	b, err := s.svc.GetByTrackingNumber(context.Background(), "B")
	s.Require().NoError(err)
	s.Require().Equal("b", b.ID)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGet_NotFound_NotCached() {
	s.cache.On("Get", mock.Anything, "shipment:NOPE:current").Return([]byte(nil), false, nil).Once()
	s.repo.On("GetShipmentByTrackingNumber", mock.Anything, "NOPE").Return((*models.ShipmentTracking)(nil), nil).Once()

	_, err := s.svc.GetByTrackingNumber(context.Background(), "NOPE")
	s.Require().ErrorIs(err, ErrNotFound)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGet_Validate() {
	_, err := s.svc.GetByTrackingNumber(context.Background(), "  ")
	s.Require().ErrorIs(err, ErrInvalidArgument)
}

func (s *ServiceSuite) TestGet_DBError() {
	want := errors.New("db error")
	s.cache.On("Get", mock.Anything, "shipment:X:current").Return([]byte(nil), false, nil).Once()
	s.repo.On("GetShipmentByTrackingNumber", mock.Anything, "X").Return((*models.ShipmentTracking)(nil), want).Once()

	_, err := s.svc.GetByTrackingNumber(context.Background(), "X")
	s.Require().ErrorIs(err, want)
}

func (s *ServiceSuite) TestGet_TTLZero_CacheDisabled() {
	svc := New(s.repo, s.cache, 0)
	s.repo.On("GetShipmentByTrackingNumber", mock.Anything, "X").Return(&models.ShipmentTracking{ID: "x"}, nil).Once()

	_, err := svc.GetByTrackingNumber(context.Background(), "X")
	s.Require().NoError(err)
	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestInvalidate() {
	s.cache.On("Delete", mock.Anything, "shipment:TRACK123:current").Return(nil).Once()
	s.Require().NoError(s.svc.Invalidate(context.Background(), "TRACK123"))
	s.cache.AssertExpectations(s.T())

	s.Require().NoError(New(s.repo, nil, 0).Invalidate(context.Background(), "TRACK123"))
}

func (s *ServiceSuite) TestListIngestEvents_LimitsAndFilter() {
	s.repo.On("ListRawEvents", mock.Anything, "", 50).Return([]*models.RawIngestEvent{{ID: "e1"}}, nil).Once()
	s.repo.On("ListRawEvents", mock.Anything, models.IngestStatusFailed, 500).Return([]*models.RawIngestEvent{}, nil).Once()

	out, err := s.svc.ListIngestEvents(context.Background(), "", 0)
	s.Require().NoError(err)
	s.Require().Len(out, 1)

	_, err = s.svc.ListIngestEvents(context.Background(), models.IngestStatusFailed, 10_000)
	s.Require().NoError(err)

	_, err = s.svc.ListIngestEvents(context.Background(), "weird", 10)
	s.Require().ErrorIs(err, ErrInvalidArgument)
	s.repo.AssertExpectations(s.T())
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
