package dunehd

import (
	"fmt"
	"strings"
)

// necCustomerCode is appended to every IR code sent over HTTP.
const necCustomerCode = "CFCF"

// IRCode is a remote-control key as printed in the Dune-HD IR code table.
type IRCode string

const (
	IREject      IRCode = "10EF"
	IRMute       IRCode = "46B9"
	IRMode       IRCode = "45BA"
	IRPower      IRCode = "43BC"
	IRPowerOn    IRCode = "5FA0"
	IRPowerOff   IRCode = "5EA1"
	IRA          IRCode = "40BF"
	IRB          IRCode = "1FE0"
	IRC          IRCode = "00FF"
	IRD          IRCode = "41BE"
	IRDigit1     IRCode = "0BF4"
	IRDigit2     IRCode = "0CF3"
	IRDigit3     IRCode = "0DF2"
	IRDigit4     IRCode = "0EF1"
	IRDigit5     IRCode = "0FF0"
	IRDigit6     IRCode = "01FE"
	IRDigit7     IRCode = "11EE"
	IRDigit8     IRCode = "12ED"
	IRDigit9     IRCode = "13EC"
	IRDigit0     IRCode = "0AF5"
	IRClear      IRCode = "05FA"
	IRSelect     IRCode = "42BD"
	IRSearch     IRCode = "06F9"
	IRZoom       IRCode = "02FD"
	IRSetup      IRCode = "4EB1"
	IRVolumeUp   IRCode = "52AD"
	IRVolumeDown IRCode = "53AC"
	IRProgramUp  IRCode = "4BB4"
	IRProgramDn  IRCode = "4CB3"
	IRUp         IRCode = "15EA"
	IRDown       IRCode = "16E9"
	IRLeft       IRCode = "17E8"
	IRRight      IRCode = "18E7"
	IREnter      IRCode = "14EB"
	IRReturn     IRCode = "04FB"
	IRInfo       IRCode = "50AF"
	IRPopupMenu  IRCode = "07F8"
	IRTopMenu    IRCode = "51AE"
	IRPlay       IRCode = "48B7"
	IRPause      IRCode = "1EE1"
	IRPlayPause  IRCode = "48B7"
	IRPrev       IRCode = "49B6"
	IRNext       IRCode = "1DE2"
	IRStop       IRCode = "19E6"
	IRSlow       IRCode = "1AE5"
	IRRewind     IRCode = "1CE3"
	IRForward    IRCode = "1BE4"
	IRSubtitle   IRCode = "54AB"
	IRAudio      IRCode = "44BB"
)

// DigitCodes indexes the numeric keys by value.
var DigitCodes = [10]IRCode{
	IRDigit0, IRDigit1, IRDigit2, IRDigit3, IRDigit4,
	IRDigit5, IRDigit6, IRDigit7, IRDigit8, IRDigit9,
}

// Wire returns the ir_code parameter: the table code with its bytes in
// reverse order followed by the NEC customer code.
func (c IRCode) Wire() (string, error) {
	code := strings.ToUpper(strings.TrimSpace(string(c)))
	if code == "" || len(code)%2 != 0 {
		return "", fmt.Errorf("invalid ir code %q", string(c))
	}
	for _, r := range code {
		if !strings.ContainsRune("0123456789ABCDEF", r) {
			return "", fmt.Errorf("invalid ir code %q", string(c))
		}
	}

	var b strings.Builder
	b.Grow(len(code) + len(necCustomerCode))
	for i := len(code); i > 0; i -= 2 {
		b.WriteString(code[i-2 : i])
	}
	b.WriteString(necCustomerCode)
	return b.String(), nil
}
