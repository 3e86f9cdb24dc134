package registry

import (
	"encoding/xml"
	"strings"

	"caseobserver/internal/domain"
)

const portalNamespace = "portalquery.just.ro"

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soap:Envelope"`
	XSI     string      `xml:"xmlns:xsi,attr"`
	XSD     string      `xml:"xmlns:xsd,attr"`
	Soap    string      `xml:"xmlns:soap,attr"`
	Body    requestBody `xml:"soap:Body"`
}

type requestBody struct {
	Search searchRequest `xml:"CautareDosare"`
}

type searchRequest struct {
	XMLNS       string `xml:"xmlns,attr"`
	Number      string `xml:"numarDosar"`
	Subject     string `xml:"obiectDosar"`
	PartyName   string `xml:"numeParte"`
	Institution string `xml:"institutie"`
}

func encodeSearch(number, court string) ([]byte, error) {
	env := requestEnvelope{
		XSI:  "http://www.w3.org/2001/XMLSchema-instance",
		XSD:  "http://www.w3.org/2001/XMLSchema",
		Soap: "http://schemas.xmlsoap.org/soap/envelope/",
		Body: requestBody{Search: searchRequest{
			XMLNS:       portalNamespace,
			Number:      number,
			Institution: court,
		}},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// Response elements are matched by local name so the portal's namespace
// prefixes do not matter.
type responseEnvelope struct {
	Cases []dosar `xml:"Body>CautareDosareResponse>CautareDosareResult>Dosar"`
}

type dosar struct {
	Number              string    `xml:"numar"`
	Institution         string    `xml:"institutie"`
	Department          string    `xml:"departament"`
	Category            string    `xml:"categorieCaz"`
	CategoryName        string    `xml:"categorieCazNume"`
	ProceduralStage     string    `xml:"stadiuProcesual"`
	ProceduralStageName string    `xml:"stadiuProcesualNume"`
	Subject             string    `xml:"obiect"`
	ModifiedAt          string    `xml:"dataModificare"`
	Parties             []parte   `xml:"parti>DosarParte"`
	Hearings            []sedinta `xml:"sedinte>DosarSedinta"`
}

type parte struct {
	Name string `xml:"nume"`
	Role string `xml:"calitateParte"`
}

type sedinta struct {
	Panel        string `xml:"complet"`
	Date         string `xml:"data"`
	Time         string `xml:"ora"`
	Solution     string `xml:"solutie"`
	Summary      string `xml:"solutieSumar"`
	PronouncedOn string `xml:"dataPronuntare"`
}

// decodeSnapshot parses a search response and picks the case matching
// number, or the first case when none matches.
func decodeSnapshot(payload []byte, number, court string) (domain.Snapshot, error) {
	var env responseEnvelope
	if err := xml.Unmarshal(payload, &env); err != nil {
		return domain.Snapshot{}, &MalformedError{Reason: err.Error()}
	}
	if len(env.Cases) == 0 {
		return domain.Snapshot{}, &MalformedError{Reason: "response has no Dosar element"}
	}

	d := env.Cases[0]
	for _, c := range env.Cases {
		if strings.EqualFold(strings.TrimSpace(c.Number), strings.TrimSpace(number)) {
			d = c
			break
		}
	}
	if strings.TrimSpace(d.Number) == "" {
		return domain.Snapshot{}, &MalformedError{Reason: "case number missing from response"}
	}
	return d.snapshot(court), nil
}

func (d dosar) snapshot(court string) domain.Snapshot {
	s := domain.Snapshot{
		Number:          strings.TrimSpace(d.Number),
		Court:           strings.TrimSpace(d.Institution),
		Status:          d.ProceduralStage,
		ProceduralStage: d.ProceduralStage,
		Category:        d.Category,
		CategoryName:    d.CategoryName,
		Subject:         d.Subject,
		Department:      d.Department,
		ModifiedAt:      d.ModifiedAt,
	}
	if s.Court == "" {
		s.Court = court
	}
	for _, p := range d.Parties {
		s.Parties = append(s.Parties, domain.Party{Name: p.Name, Role: p.Role})
	}
	for _, h := range d.Hearings {
		s.Hearings = append(s.Hearings, domain.Hearing{
			Date:          h.Date,
			Time:          h.Time,
			JudicialPanel: h.Panel,
			Solution:      h.Solution,
			Summary:       h.Summary,
			PronouncedOn:  h.PronouncedOn,
		})
	}
	return s
}
