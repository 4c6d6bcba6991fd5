package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BearBump/TrackHub/internal/carrierdetect"
	"github.com/BearBump/TrackHub/internal/emailparse"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/BearBump/TrackHub/internal/storage/pgshipping"
	"github.com/pkg/errors"
)

// fuzzyLimit: запрашиваем двоих, чтобы отличить единственное совпадение от неоднозначного.
const fuzzyLimit = 2

type InboundEmail struct {
	FromName  string `json:"fromName"`
	FromEmail string `json:"fromEmail"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type EmailItem struct {
	TrackingNumber string  `json:"trackingNumber"`
	CarrierCode    string  `json:"carrierCode"`
	Outcome        string  `json:"outcome"`
	ShipmentID     *string `json:"shipmentId,omitempty"`
	OrderID        *string `json:"orderId,omitempty"`
}

type EmailResult struct {
	Outcome         string                `json:"outcome"`
	Confidence      emailparse.Confidence `json:"confidence,omitempty"`
	OrderReferences []string              `json:"orderReferences,omitempty"`
	Items           []EmailItem           `json:"items"`
}

// HandleEmail creates shipments from a shipping notification email.
// Нераспознанные или сомнительные письма уходят на ручной разбор, а не в БД.
func (s *Service) HandleEmail(ctx context.Context, in InboundEmail) (EmailResult, error) {
	from := strings.ToLower(strings.TrimSpace(in.FromEmail))
	if from == "" && strings.TrimSpace(in.Subject) == "" && strings.TrimSpace(in.Body) == "" {
		return EmailResult{}, errors.Wrap(ErrMalformedInput, "empty email")
	}

	res := EmailResult{Items: []EmailItem{}}
	if !emailparse.IsShippingEmail(from, in.Subject) {
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	parsed := emailparse.Parse(from, in.Subject, in.Body)
	res.Confidence = parsed.Confidence
	res.OrderReferences = parsed.OrderReferences

	if !parsed.Confidence.AtLeast(s.opts.MinConfidence) {
		slog.Info("shipping email below confidence threshold",
			"from", from, "confidence", parsed.Confidence, "min", s.opts.MinConfidence)
		res.Outcome = OutcomeManualReview
		return res, nil
	}
	if len(parsed.TrackingNumbers) == 0 {
		slog.Info("shipping email without tracking numbers", "from", from)
		res.Outcome = OutcomeManualReview
		return res, nil
	}

	var (
		order   *models.Order
		matched bool
	)
	created := 0
	senderCarrier := carrierdetect.Lookup(emailparse.SenderCarrier(from))
	for _, c := range parsed.TrackingNumbers {
		item := EmailItem{TrackingNumber: c.TrackingNumber}
		carrier := c.Carrier
		if carrier == nil {
			carrier = senderCarrier
		}
		if carrier != nil {
			item.CarrierCode = carrier.Code
		}

		exists, err := s.store.ShipmentExists(ctx, c.TrackingNumber)
		if err != nil {
			return res, errors.Wrap(err, "check shipment")
		}
		if exists {
			item.Outcome = OutcomeSkipped
			res.Items = append(res.Items, item)
			continue
		}
		if carrier == nil {
			slog.Info("tracking number without carrier", "tracking_number", c.TrackingNumber, "from", from)
			item.Outcome = OutcomeManualReview
			res.Items = append(res.Items, item)
			continue
		}

		if !matched {
			order, err = s.matchOrder(ctx, parsed.OrderReferences)
			if err != nil {
				return res, err
			}
			matched = true
		}
		if order == nil {
			slog.Warn("shipping email without matching order",
				"tracking_number", c.TrackingNumber, "order_refs", parsed.OrderReferences)
			item.Outcome = OutcomeManualReview
			res.Items = append(res.Items, item)
			continue
		}
		item.OrderID = strPtr(order.ID)

		out, err := s.store.CreateEmailShipment(ctx, pgshipping.EmailShipmentInput{
			TrackingNumber: c.TrackingNumber,
			Carrier: models.ShippingCarrier{
				Name:                carrier.Name,
				Code:                carrier.Code,
				TrackingURLTemplate: carrierdetect.URLTemplate(carrier.Code),
			},
			OrderID: order.ID,
			SourceDetails: map[string]any{
				"fromEmail":       from,
				"fromName":        in.FromName,
				"to":              in.To,
				"subject":         in.Subject,
				"confidence":      string(parsed.Confidence),
				"orderReferences": parsed.OrderReferences,
			},
			ReceivedAt: s.now(),
		})
		if err != nil {
			return res, errors.Wrap(err, "create email shipment")
		}
		if !out.Created {
			// гонка с параллельным письмом или вебхуком
			item.Outcome = OutcomeSkipped
			res.Items = append(res.Items, item)
			continue
		}

		created++
		item.Outcome = OutcomeCreated
		if out.Shipment != nil {
			item.ShipmentID = strPtr(out.Shipment.ID)
		}
		if err := s.invalidate(ctx, c.TrackingNumber); err != nil {
			slog.Warn("cache invalidate failed", "tracking_number", c.TrackingNumber, "error", err.Error())
		}
		slog.Info("shipment created from email",
			"tracking_number", c.TrackingNumber, "carrier", carrier.Code, "order_id", order.ID)
		res.Items = append(res.Items, item)
	}

	res.Outcome = OutcomeProcessed
	if created == 0 && allManual(res.Items) {
		res.Outcome = OutcomeManualReview
	}
	return res, nil
}

// matchOrder tries every reference exactly first; fuzzy matching only counts
// when it yields a single order.
func (s *Service) matchOrder(ctx context.Context, refs []string) (*models.Order, error) {
	for _, ref := range refs {
		o, err := s.store.FindOrderByNumber(ctx, ref)
		if err != nil {
			return nil, errors.Wrap(err, "find order")
		}
		if o != nil {
			return o, nil
		}
	}
	for _, ref := range refs {
		found, err := s.store.FindOrdersByNumberLike(ctx, ref, fuzzyLimit)
		if err != nil {
			return nil, errors.Wrap(err, "find order fuzzy")
		}
		if len(found) == 1 {
			return found[0], nil
		}
	}
	return nil, nil
}

func allManual(items []EmailItem) bool {
	for _, it := range items {
		if it.Outcome != OutcomeManualReview {
			return false
		}
	}
	return len(items) > 0
}
