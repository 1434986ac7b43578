package stub

import (
	"errors"
	"net/http"

	"github.com/gocarina/gocsv"
)

var (
	errEmptyCSV           = errors.New("file has no data rows")
	errMissingPhoneColumn = errors.New("file must have a phone_numbers column")
)

// SampleRow is one line of the downloadable recipient template.
type SampleRow struct {
	PhoneNumbers string `csv:"phone_numbers"`
	Name         string `csv:"name"`
	City         string `csv:"city"`
}

var sampleRows = []SampleRow{
	{PhoneNumbers: "+919876543210", Name: "Asha", City: "Pune"},
	{PhoneNumbers: "9812345678", Name: "Ravi", City: "Delhi"},
}

// handleSampleCSV serves the recipient template users fill in before
// uploading.
func (s *Server) handleSampleCSV(w http.ResponseWriter, r *http.Request) {
	out, err := gocsv.MarshalString(&sampleRows)
	if err != nil {
		http.Error(w, "failed to render sample", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sample.csv"`)
	_, _ = w.Write([]byte(out))
}
