package tickets

import (
	"bytes"
	"fmt"
	"image/png"
	"ms-ticket-orders/internal/models"

	"github.com/signintech/gopdf"
)

// PDFRenderer lays out a printable A4 ticket. Without a font only the QR
// code is drawn.
type PDFRenderer struct {
	fontPath string
}

func NewPDFRenderer(fontPath string) *PDFRenderer {
	return &PDFRenderer{fontPath: fontPath}
}

func (g *PDFRenderer) Render(t *models.TicketInstance, ev *models.Event, qrCode []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	withText := g.fontPath != ""
	if withText {
		if err := pdf.AddTTFFont("ticket", g.fontPath); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
		if err := pdf.SetFont("ticket", "", 14); err != nil {
			return nil, fmt.Errorf("failed to set font: %w", err)
		}
		pdf.SetX(40)
		pdf.SetY(30)
		if err := pdf.Cell(nil, ev.Title); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		pdf.SetY(60)
		if err := addTicketInfo(pdf, t, ev); err != nil {
			return nil, err
		}
	}

	img, err := png.Decode(bytes.NewReader(qrCode))
	if err != nil {
		return nil, fmt.Errorf("failed to decode QR code: %w", err)
	}
	y := 60.0
	if withText {
		y = pdf.GetY() + 20
	}
	if err := pdf.ImageFrom(img, 40, y, &gopdf.Rect{W: 200, H: 200}); err != nil {
		return nil, fmt.Errorf("failed to draw QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addTicketInfo(pdf *gopdf.GoPdf, t *models.TicketInstance, ev *models.Event) error {
	info := []struct {
		Label string
		Value string
	}{
		{"Ticket", t.Code},
		{"Attendee", t.AttendeeName},
		{"Starts", ev.StartsAt.Format("2006-01-02 15:04 MST")},
		{"Status", string(t.Status)},
	}
	if t.IsHalfPrice {
		info = append(info, struct {
			Label string
			Value string
		}{"Fare", "Half price"})
	}
	for _, item := range info {
		pdf.SetX(40)
		if err := pdf.Cell(nil, item.Label+": "+item.Value); err != nil {
			return fmt.Errorf("failed to write %s: %w", item.Label, err)
		}
		pdf.Br(20)
	}
	return nil
}
