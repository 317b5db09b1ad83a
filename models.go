// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package canon

import (
	"fmt"
	"strings"
)

// VendorCanon is the Canon USB vendor id.
const VendorCanon = 0x04A9

// Class groups camera models that speak the same protocol dialect.
type Class int

const (
	// ClassNone marks an unknown model.
	ClassNone Class = iota - 1
	// Class0 is the oldest USB generation (S10, S20, G1).
	Class0
	// Class1 is the common PowerShot generation.
	Class1
	// Class2 is the Pro70.
	Class2
	// Class3 is the A5 family.
	Class3
	// Class4 covers EOS bodies and a few PowerShots that lock keys the EOS way.
	Class4
	// Class5 covers newer PowerShots using the generic lock.
	Class5
	// Class6 is the revised protocol of the EOS 20D/350D and SD200.
	Class6
)

func (c Class) String() string {
	if c == ClassNone {
		return "none"
	}
	return fmt.Sprintf("class %d", int(c))
}

// CaptureSupport describes how well remote capture works on a model.
type CaptureSupport int

const (
	// CaptureNone means the model cannot be triggered remotely.
	CaptureNone CaptureSupport = iota
	// CaptureSupported means remote capture is known to work.
	CaptureSupported
	// CaptureExperimental means capture works on some firmware.
	CaptureExperimental
)

func (c CaptureSupport) String() string {
	switch c {
	case CaptureSupported:
		return "supported"
	case CaptureExperimental:
		return "experimental"
	default:
		return "none"
	}
}

// Model is one row of the model table.
type Model struct {
	Name    string
	Class   Class
	Capture CaptureSupport
	// ProductID is the USB product id; zero for serial-only models.
	ProductID uint16
	// SerialIdent is the identification string a model reports on the
	// serial wake-up; empty for USB-only models.
	SerialIdent string
	MaxMovie    int64
	MaxThumb    int64
	MaxPicture  int64
}

// HasUSB reports whether the model has a USB interface.
func (m *Model) HasUSB() bool { return m.ProductID != 0 }

// MaxFile returns the largest plausible size of an ordinary file download.
func (m *Model) MaxFile() int64 {
	if m.MaxMovie > m.MaxPicture {
		return m.MaxMovie
	}
	return m.MaxPicture
}

func usbModel(name string, class Class, pid uint16, capture CaptureSupport, movie int64) Model {
	return Model{
		Name:       name,
		Class:      class,
		Capture:    capture,
		ProductID:  pid,
		MaxMovie:   movie,
		MaxThumb:   SizeLimitThumb,
		MaxPicture: SizeLimitPicture,
	}
}

// models is ordered so that the first entry for a shared product id is the
// canonical name.
var models = []Model{
	{Name: "PowerShot A5", Class: Class3, SerialIdent: "DE300 Canon Inc.",
		MaxMovie: SizeLimitMovieSmall, MaxThumb: SizeLimitThumb, MaxPicture: SizeLimitPicture},
	{Name: "PowerShot A5 Zoom", Class: Class3, SerialIdent: "Canon PowerShot A5 Zoom",
		MaxMovie: SizeLimitMovieSmall, MaxThumb: SizeLimitThumb, MaxPicture: SizeLimitPicture},
	{Name: "PowerShot A50", Class: Class1, SerialIdent: "Canon PowerShot A50",
		MaxMovie: SizeLimitMovieSmall, MaxThumb: SizeLimitThumb, MaxPicture: SizeLimitPicture},
	{Name: "PowerShot Pro70", Class: Class2, SerialIdent: "Canon PowerShot Pro70",
		MaxMovie: SizeLimitMovieSmall, MaxThumb: SizeLimitThumb, MaxPicture: SizeLimitPicture},
	withSerial(usbModel("PowerShot S10", Class0, 0x3041, CaptureNone, SizeLimitMovieSmall), "Canon PowerShot S10"),
	withSerial(usbModel("PowerShot S20", Class0, 0x3043, CaptureNone, SizeLimitMovieSmall), "Canon PowerShot S20"),
	usbModel("EOS D30", Class4, 0x3044, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot S100 (2000)", Class0, 0x3045, CaptureNone, SizeLimitMovieSmall),
	usbModel("IXY DIGITAL", Class0, 0x3046, CaptureNone, SizeLimitMovieSmall),
	usbModel("Digital IXUS", Class0, 0x3047, CaptureNone, SizeLimitMovieSmall),
	withSerial(usbModel("PowerShot G1", Class0, 0x3048, CaptureSupported, SizeLimitMovieSmall), "Canon PowerShot G1"),
	withSerial(usbModel("PowerShot Pro90 IS", Class0, 0x3049, CaptureSupported, SizeLimitMovieSmall),
		"Canon PowerShot Pro90 IS"),
	usbModel("IXY DIGITAL 300", Class1, 0x304B, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot S300", Class1, 0x304C, CaptureSupported, SizeLimitMovieSmall),
	usbModel("Digital IXUS 300", Class1, 0x304D, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot A20", Class1, 0x304E, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot A10", Class1, 0x304F, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot unknown 1", Class1, 0x3050, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot S110 (2001)", Class0, 0x3051, CaptureSupported, SizeLimitMovieSmall),
	usbModel("Digital IXUS v", Class0, 0x3052, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot G2", Class1, 0x3055, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot S40", Class1, 0x3056, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot S30", Class1, 0x3057, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A40", Class1, 0x3058, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot A30", Class1, 0x3059, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot unknown 2", Class1, 0x305c, CaptureSupported, SizeLimitMovieSmall),
	usbModel("EOS D60", Class4, 0x3060, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot A100", Class1, 0x3061, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot A200", Class1, 0x3062, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot S200", Class1, 0x3065, CaptureSupported, SizeLimitMovieSmall),
	usbModel("Digital IXUS v2", Class1, 0x3065, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot S330", Class1, 0x3066, CaptureSupported, SizeLimitMovieSmall),
	usbModel("Digital IXUS 330", Class1, 0x3066, CaptureSupported, SizeLimitMovieSmall),
	usbModel("Digital unknown 3", Class1, 0x306a, CaptureSupported, SizeLimitMovieSmall),
	usbModel("Optura 200 MC", Class1, 0x306B, CaptureSupported, SizeLimitMovieLarge),
	usbModel("MVX2i", Class1, 0x306B, CaptureSupported, SizeLimitMovieLarge),
	usbModel("IXY DV M", Class1, 0x306B, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S45 (normal mode)", Class5, 0x306C, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot G3 (normal mode)", Class5, 0x306E, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S230 (normal mode)", Class4, 0x3070, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS v3 (normal mode)", Class4, 0x3070, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot SD100 (normal mode)", Class5, 0x3072, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS II (normal mode)", Class5, 0x3072, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A70", Class1, 0x3073, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A60", Class1, 0x3074, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS 400", Class1, 0x3075, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S400", Class1, 0x3075, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A300", Class1, 0x3076, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S50 (normal mode)", Class4, 0x3077, CaptureSupported, SizeLimitMovieLarge),
	usbModel("ZR70MC (normal mode)", Class1, 0x3078, CaptureSupported, SizeLimitMovieSmall),
	usbModel("MV650i (normal mode)", Class1, 0x307a, CaptureSupported, SizeLimitMovieSmall),
	usbModel("MV630i (normal mode)", Class1, 0x307c, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Optura 20", Class1, 0x307f, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Optura 20 (normal mode)", Class1, 0x3080, CaptureSupported, SizeLimitMovieLarge),
	usbModel("MVX150i (normal mode)", Class1, 0x3080, CaptureSupported, SizeLimitMovieLarge),
	usbModel("MVX100i", Class1, 0x3081, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Optura 10", Class1, 0x3082, CaptureSupported, SizeLimitMovieLarge),
	usbModel("EOS 10D", Class4, 0x3083, CaptureSupported, SizeLimitMovieSmall),
	usbModel("EOS 300D (normal mode)", Class4, ProductEOS300D, CaptureSupported, SizeLimitMovieSmall),
	usbModel("EOS Digital Rebel (normal mode)", Class4, ProductEOS300D, CaptureSupported, SizeLimitMovieSmall),
	usbModel("EOS Kiss Digital (normal mode)", Class4, ProductEOS300D, CaptureSupported, SizeLimitMovieSmall),
	usbModel("PowerShot G5 (normal mode)", Class5, 0x3085, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Elura 50 (normal mode)", Class1, 0x3088, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Optura Xi (normal mode)", Class1, 0x308e, CaptureSupported, SizeLimitMovieLarge),
	usbModel("MVX 3i (normal mode)", Class1, 0x308e, CaptureSupported, SizeLimitMovieLarge),
	usbModel("FV M1 (normal mode)", Class1, 0x308e, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Optura 300 (normal mode)", Class1, 0x3096, CaptureSupported, SizeLimitMovieLarge),
	usbModel("MVX 10i (normal mode)", Class1, 0x3096, CaptureSupported, SizeLimitMovieLarge),
	usbModel("IXY DV M2 (normal mode)", Class1, 0x3096, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A80 (normal mode)", Class1, 0x309A, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot SD10 Digital ELPH (normal mode)", Class1, 0x309B, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS i (normal mode)", Class1, 0x309B, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot IXY Digital L (normal mode)", Class1, 0x309B, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S1 IS (normal mode)", Class5, 0x309C, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Optura 40 (normal mode)", Class1, 0x30A9, CaptureSupported, SizeLimitMovieLarge),
	usbModel("MVX25i (normal mode)", Class1, 0x30A9, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S70 (normal mode)", Class5, 0x30b1, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S60 (normal mode)", Class5, 0x30b2, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot G6 (normal mode)", Class5, 0x30b3, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS 500 (normal mode)", Class5, 0x30b4, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S500 Digital ELPH (normal mode)", Class5, 0x30b4, CaptureSupported, SizeLimitMovieLarge),
	usbModel("IXY Digital 500 (normal mode)", Class5, 0x30b4, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A75", Class1, 0x30b5, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot SD110 Digital ELPH", Class1, 0x30b6, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS IIs", Class1, 0x30b6, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A400", Class5, 0x30b7, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A310", Class5, 0x30b8, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A85 (normal mode)", Class5, 0x30b9, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S410 Digital ELPH (normal mode)", Class5, 0x30ba, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS 430 (normal mode)", Class5, 0x30ba, CaptureSupported, SizeLimitMovieLarge),
	usbModel("IXY Digital 430 (normal mode)", Class5, 0x30ba, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot A95 (normal mode)", Class5, 0x30bb, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot SD200 (normal mode)", Class6, 0x30c0, CaptureSupported, SizeLimitMovieLarge),
	usbModel("Digital IXUS 30 (normal mode)", Class6, 0x30c0, CaptureSupported, SizeLimitMovieLarge),
	usbModel("IXY Digital 40 (normal mode)", Class6, 0x30c0, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot SD400 (normal mode)", Class4, 0x30c1, CaptureNone, SizeLimitMovieLarge),
	usbModel("Digital IXUS 50 (normal mode)", Class4, 0x30c1, CaptureNone, SizeLimitMovieLarge),
	usbModel("IXY Digital 55 (normal mode)", Class4, 0x30c1, CaptureNone, SizeLimitMovieLarge),
	usbModel("PowerShot A510 (normal mode)", Class1, 0x30c2, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot SD20 (normal mode)", Class5, 0x30c4, CaptureSupported, SizeLimitMovieSmall),
	usbModel("Digital IXUS i5 (normal mode)", Class5, 0x30c4, CaptureSupported, SizeLimitMovieSmall),
	usbModel("IXY Digital L2 (normal mode)", Class5, 0x30c4, CaptureSupported, SizeLimitMovieSmall),
	withCR2Thumb(usbModel("EOS 20D (normal mode)", Class6, 0x30eb, CaptureExperimental, SizeLimitMovieLarge)),
	withCR2Thumb(usbModel("EOS 350D (normal mode)", Class6, 0x30ee, CaptureExperimental, SizeLimitMovieLarge)),
	withCR2Thumb(usbModel("Digital Rebel XT (normal mode)", Class6, 0x30ee, CaptureExperimental, SizeLimitMovieLarge)),
	withCR2Thumb(usbModel("EOS Kiss Digital N (normal mode)", Class6, 0x30ee, CaptureExperimental,
		SizeLimitMovieLarge)),
	usbModel("EOS 5D (normal mode)", Class6, 0x3101, CaptureSupported, SizeLimitMovieLarge),
	usbModel("PowerShot S2 IS (normal mode)", Class1, 0x30f0, CaptureExperimental, SizeLimitMovieLarge),
	usbModel("PowerShot SD500 (normal mode)", Class5, 0x30f2, CaptureNone, SizeLimitMovieLarge),
	usbModel("Digital IXUS 700 (normal mode)", Class5, 0x30f2, CaptureNone, SizeLimitMovieLarge),
	usbModel("IXY Digital 600 (normal mode)", Class5, 0x30f2, CaptureNone, SizeLimitMovieLarge),
	usbModel("PowerShot A610 (normal mode)", Class5, 0x30fd, CaptureSupported, SizeLimitMovieLarge),
}

// ProductEOS300D is the EOS 300D family, whose capture ends after the
// image-ready event.
const ProductEOS300D = 0x3084

func withSerial(m Model, ident string) Model {
	m.SerialIdent = ident
	return m
}

func withCR2Thumb(m Model) Model {
	m.MaxThumb = SizeLimitThumbCR2
	return m
}

// Models returns a copy of the model table.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// LookupUSB returns the model with the given Canon USB product id.
func LookupUSB(productID uint16) (*Model, error) {
	for i := range models {
		if models[i].ProductID == productID {
			m := models[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: USB product 0x%04x", ErrUnsupportedModel, productID)
}

// LookupSerialIdent returns the model whose wake-up identification appears
// in ident. Cameras pad the string with NULs and trailing junk.
func LookupSerialIdent(ident string) (*Model, error) {
	ident = strings.TrimRight(ident, "\x00")
	for i := range models {
		if models[i].SerialIdent != "" && strings.Contains(ident, models[i].SerialIdent) {
			m := models[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: serial ident %q", ErrUnsupportedModel, ident)
}

// LookupName returns the model with the given name, case-insensitively.
func LookupName(name string) (*Model, error) {
	for i := range models {
		if strings.EqualFold(models[i].Name, name) {
			m := models[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
}
