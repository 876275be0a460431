// Package certsvc renders course completion certificates.
package certsvc

import (
	"bytes"
	"context"
	"image/color"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/user"
)

const (
	width  = 1600
	height = 1130
)

var (
	// errors
	ErrNotEligible = errors.New("a certificate requires full access and every lesson completed")
	ErrTimeout     = errors.New("certificate rendering timed out")
)

// Certificate is what gets printed.
type Certificate struct {
	ID          string
	StudentName string
	CourseTitle string
	IssuedAt    time.Time
}

type Service struct {
	appName string
	timeout time.Duration
	title   *truetype.Font
	body    *truetype.Font
}

func NewService(conf *core.Config) (*Service, error) {
	title, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "parsing title font")
	}
	body, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "parsing body font")
	}
	timeout := conf.Certificate.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{appName: conf.AppName, timeout: timeout, title: title, body: body}, nil
}

// Issue renders the PNG certificate of a full tier student who completed every lesson.
func (svc *Service) Issue(ctx context.Context, usr user.User, tier access.Tier, sum progress.Summary, courseTitle string) (Certificate, []byte, error) {
	if tier != access.TierFull || !sum.IsComplete() {
		return Certificate{}, nil, ErrNotEligible
	}
	name := usr.Name
	if name == "" {
		name = usr.Email
	}
	cert := Certificate{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("coursekit:"+usr.ID+":"+courseTitle)).String(),
		StudentName: name,
		CourseTitle: courseTitle,
		IssuedAt:    core.NowFunc(),
	}
	png, err := svc.Render(ctx, cert)
	if err != nil {
		return Certificate{}, nil, err
	}
	return cert, png, nil
}

// Render draws cert within the configured timeout. On timeout nothing is returned.
func (svc *Service) Render(ctx context.Context, cert Certificate) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, svc.timeout)
	defer cancel()
	if ctx.Err() != nil {
		return nil, ErrTimeout
	}

	type result struct {
		png []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		png, err := svc.draw(cert)
		done <- result{png: png, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrTimeout
	case res := <-done:
		if res.err != nil {
			return nil, errors.Wrap(res.err, "rendering certificate")
		}
		return res.png, nil
	}
}

func (svc *Service) face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{Size: size})
}

func (svc *Service) draw(cert Certificate) ([]byte, error) {
	dc := gg.NewContext(width, height)
	cx := float64(width) / 2

	dc.SetColor(color.White)
	dc.Clear()

	// border
	dc.SetColor(color.NRGBA{R: 0x1f, G: 0x3a, B: 0x5f, A: 0xff})
	dc.SetLineWidth(12)
	dc.DrawRectangle(40, 40, width-80, height-80)
	dc.Stroke()
	dc.SetLineWidth(2)
	dc.DrawRectangle(64, 64, width-128, height-128)
	dc.Stroke()

	dc.SetFontFace(svc.face(svc.title, 72))
	dc.DrawStringAnchored("Certificate of Completion", cx, 260, 0.5, 0.5)

	dc.SetColor(color.NRGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff})
	dc.SetFontFace(svc.face(svc.body, 32))
	dc.DrawStringAnchored("This certifies that", cx, 400, 0.5, 0.5)

	dc.SetColor(color.Black)
	dc.SetFontFace(svc.face(svc.title, 64))
	dc.DrawStringAnchored(cert.StudentName, cx, 500, 0.5, 0.5)

	dc.SetColor(color.NRGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff})
	dc.SetFontFace(svc.face(svc.body, 32))
	dc.DrawStringAnchored("has completed every lesson of", cx, 600, 0.5, 0.5)
	dc.SetFontFace(svc.face(svc.title, 44))
	dc.DrawStringWrapped(cert.CourseTitle, cx, 690, 0.5, 0.5, width-300, 1.3, gg.AlignCenter)

	dc.SetFontFace(svc.face(svc.body, 24))
	dc.DrawStringAnchored(svc.appName+" · "+cert.IssuedAt.Format("January 2, 2006"), cx, 900, 0.5, 0.5)
	dc.DrawStringAnchored("Certificate "+cert.ID, cx, 950, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, errors.Wrap(err, "encoding PNG")
	}
	return buf.Bytes(), nil
}
