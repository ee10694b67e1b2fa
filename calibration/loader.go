package calibration

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/beamline/viewscreen/logging"
)

// MappingTypePolynomial is the only supported mapping type.
const MappingTypePolynomial = "Multivariate Polynomial"

type document struct {
	XMLName     xml.Name            `xml:"configuration"`
	Geometry    *string             `xml:"geometry"`
	Orientation *orientationElement `xml:"orientation"`
	Targets     []targetElement     `xml:"target"`
	Calibration *calibrationElement `xml:"calibration"`
}

type orientationElement struct {
	X *string `xml:"x,attr"`
	Y *string `xml:"y,attr"`
}

type targetElement struct {
	Number            *string `xml:"number,attr"`
	Material          *string `xml:"material,attr"`
	LightDistribution *string `xml:"light_distribution,attr"`
}

type calibrationElement struct {
	BeamspaceImageWidth  *string `xml:"BeamspaceImageWidth"`
	BeamspaceImageHeight *string `xml:"BeamspaceImageHeight"`
	MappingOrder         *string `xml:"MappingOrder"`
	BeamspaceStartX      *string `xml:"BeamspaceStartX"`
	BeamspaceEndX        *string `xml:"BeamspaceEndX"`
	BeamspaceStartY      *string `xml:"BeamspaceStartY"`
	BeamspaceEndY        *string `xml:"BeamspaceEndY"`
	MappingType          *string `xml:"MappingType"`
	GUCoefficients       *string `xml:"GUCoefficients"`
	GVCoefficients       *string `xml:"GVCoefficients"`
	FXCoefficients       *string `xml:"FXCoefficients"`
	FYCoefficients       *string `xml:"FYCoefficients"`
}

// Loader reads calibration documents. It never touches a live Mapper: a decoded model is
// returned to the caller, which publishes it only once it is complete and valid.
type Loader struct {
	paths  *RepositoryPaths
	logger logging.Logger
}

// NewLoader returns a loader resolving document names against paths.
func NewLoader(paths *RepositoryPaths, logger logging.Logger) *Loader {
	return &Loader{paths: paths, logger: logger}
}

// LoadFile reads and validates the named calibration document.
func (l *Loader) LoadFile(name string) (*Model, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewDocumentMissingError(name, errors.New("empty document name"))
	}
	path := l.paths.Resolve(name)
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		l.logger.Errorw("cannot open calibration document", "path", path, "error", err)
		return nil, NewDocumentMissingError(path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			l.logger.Debugw("error closing calibration document", "path", path, "error", err)
		}
	}()

	model, err := Decode(f)
	if err != nil {
		l.logger.Errorw("calibration document rejected", "path", path, "error", err)
		return nil, err
	}
	model.Source = path
	l.logger.Infow("loaded calibration document", "path", path, "geometry", model.Geometry,
		"output_width", model.OutputWidth, "output_height", model.OutputHeight, "order", model.Order)
	return model, nil
}

// Decode parses a calibration document into a new, validated model.
func Decode(r io.Reader) (*Model, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, NewDocumentMalformedError(err.Error())
	}

	model := &Model{InputWidth: DefaultInputWidth, InputHeight: DefaultInputHeight}

	if doc.Geometry == nil {
		return nil, errMissing("<geometry> element")
	}
	if strings.TrimSpace(*doc.Geometry) == "" {
		return nil, NewDocumentMalformedError("<geometry> element is empty")
	}
	geometry, err := ParseGeometry(*doc.Geometry)
	if err != nil {
		return nil, err
	}
	model.Geometry = geometry

	if doc.Orientation == nil {
		return nil, errMissing("<orientation> element")
	}
	if model.Orientation.X, err = intAttr(doc.Orientation.X, "x", "orientation"); err != nil {
		return nil, err
	}
	if model.Orientation.Y, err = intAttr(doc.Orientation.Y, "y", "orientation"); err != nil {
		return nil, err
	}

	if len(doc.Targets) == 0 {
		return nil, errMissing("<target> element")
	}
	for _, t := range doc.Targets {
		number, err := intAttr(t.Number, "number", "target")
		if err != nil {
			return nil, err
		}
		if t.Material == nil {
			return nil, errMissing(`"material" attribute of <target>`)
		}
		if t.LightDistribution == nil {
			return nil, errMissing(`"light_distribution" attribute of <target>`)
		}
		if number < 0 || number >= MaxTargets {
			return nil, NewParameterInvalidError(fmt.Sprintf("target number %d outside [0,%d)", number, MaxTargets))
		}
		if model.Targets[number] != nil {
			return nil, NewDocumentMalformedError(fmt.Sprintf("duplicate <target> number %d", number))
		}
		model.Targets[number] = &TargetInfo{
			Material:          strings.TrimSpace(*t.Material),
			LightDistribution: strings.ToLower(strings.TrimSpace(*t.LightDistribution)),
		}
	}

	cal := doc.Calibration
	if cal == nil {
		return nil, errMissing("<calibration> element")
	}
	for _, p := range []struct {
		name string
		text *string
		dst  *int
	}{
		{"BeamspaceImageWidth", cal.BeamspaceImageWidth, &model.OutputWidth},
		{"BeamspaceImageHeight", cal.BeamspaceImageHeight, &model.OutputHeight},
		{"MappingOrder", cal.MappingOrder, &model.Order},
	} {
		if p.text == nil {
			return nil, errMissing("<" + p.name + "> element")
		}
		v, err := cast.ToIntE(strings.TrimSpace(*p.text))
		if err != nil {
			return nil, NewDocumentMalformedError(fmt.Sprintf("<%s>: %v", p.name, err))
		}
		*p.dst = v
	}
	for _, p := range []struct {
		name string
		text *string
		dst  *float64
	}{
		{"BeamspaceStartX", cal.BeamspaceStartX, &model.XStart},
		{"BeamspaceEndX", cal.BeamspaceEndX, &model.XEnd},
		{"BeamspaceStartY", cal.BeamspaceStartY, &model.YStart},
		{"BeamspaceEndY", cal.BeamspaceEndY, &model.YEnd},
	} {
		if p.text == nil {
			return nil, errMissing("<" + p.name + "> element")
		}
		v, err := cast.ToFloat64E(strings.TrimSpace(*p.text))
		if err != nil {
			return nil, NewDocumentMalformedError(fmt.Sprintf("<%s>: %v", p.name, err))
		}
		*p.dst = v
	}

	if cal.MappingType == nil {
		return nil, errMissing("<MappingType> element")
	}
	if strings.TrimSpace(*cal.MappingType) != MappingTypePolynomial {
		return nil, NewDocumentMalformedError(fmt.Sprintf("unsupported mapping type %q", *cal.MappingType))
	}
	for _, p := range []struct {
		name string
		text *string
		dst  *Polynomial
	}{
		{"GUCoefficients", cal.GUCoefficients, &model.GU},
		{"GVCoefficients", cal.GVCoefficients, &model.GV},
		{"FXCoefficients", cal.FXCoefficients, &model.FX},
		{"FYCoefficients", cal.FYCoefficients, &model.FY},
	} {
		if p.text == nil {
			return nil, errMissing("<" + p.name + "> element")
		}
		coeffs, err := ParseCoefficients(*p.text)
		if err != nil {
			return nil, NewDocumentMalformedError(fmt.Sprintf("<%s>: %v", p.name, err))
		}
		*p.dst = coeffs
	}

	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// ParseCoefficients parses whitespace separated decimal numbers.
func ParseCoefficients(text string) (Polynomial, error) {
	fields := strings.Fields(text)
	coeffs := make(Polynomial, 0, len(fields))
	for _, field := range fields {
		v, err := cast.ToFloat64E(field)
		if err != nil {
			return nil, err
		}
		coeffs = append(coeffs, v)
	}
	return coeffs, nil
}

func intAttr(text *string, attr, element string) (int, error) {
	if text == nil {
		return 0, errMissing(fmt.Sprintf("%q attribute of <%s>", attr, element))
	}
	v, err := cast.ToIntE(strings.TrimSpace(*text))
	if err != nil {
		return 0, NewDocumentMalformedError(fmt.Sprintf("%q attribute of <%s>: %v", attr, element, err))
	}
	return v, nil
}
