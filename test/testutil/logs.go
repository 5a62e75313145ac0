package testutil

import "strings"

// Failure describes the columns of one failed EvalAndLogResults record.
type Failure struct {
	TestName    string
	Description string
	Low         string
	High        string
	Value       string
	ErrorMsg    string
}

// FailureLine renders a tab-separated failed measurement record.
// Params: failure columns.
// Returns: log line as written by the test executive.
func FailureLine(f Failure) string {
	columns := make([]string, 23)
	columns[0] = "10:00:05.123"
	columns[1] = "MAIN"
	columns[4] = "EvalAndLogResults"
	columns[5] = f.TestName
	columns[9] = f.Description
	columns[10] = f.Low
	columns[11] = f.High
	columns[12] = f.Value
	columns[16] = "* FAILED *"
	columns[17] = f.ErrorMsg
	columns[22] = "MC01"
	return strings.Join(columns, "\t")
}

// PassLine renders a passing record for the same test.
func PassLine(testName, value string) string {
	columns := make([]string, 23)
	columns[0] = "10:00:04.000"
	columns[1] = "MAIN"
	columns[4] = "EvalAndLogResults"
	columns[5] = testName
	columns[12] = value
	columns[16] = "PASSED"
	return strings.Join(columns, "\t")
}

// HeaderLine renders the header that opens one test's section.
func HeaderLine(testName string) string {
	return "10:00:00.001\t" + testName + "\tHeader\tTest = " + testName + "  |  Barcode = N6PC270177  |  Time start = 7/17/2025 9:35:38 AM"
}

// FooterLine renders the footer that closes one test's section.
func FooterLine(testName string) string {
	return "10:00:09.999\t" + testName + "\tFooter\tTest = " + testName + "  |  Result = FAILED"
}
