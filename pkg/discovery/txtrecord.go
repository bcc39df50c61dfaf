package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates the TXT records of an advertised server.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyVersion] = TXTVersion
	txt[TXTKeyVerb] = info.Verb
	if txt[TXTKeyVerb] == "" {
		txt[TXTKeyVerb] = DefaultVerb
	}

	if info.ServerName != "" {
		txt[TXTKeyServerName] = info.ServerName
	}
	if info.Fingerprint != "" {
		txt[TXTKeyFingerprint] = info.Fingerprint
	}
	return txt
}

// DecodeServerTXT parses the TXT records of a browsed server into svc.
func DecodeServerTXT(txt TXTRecordMap, svc *Service) error {
	var ok bool

	svc.Version, ok = txt[TXTKeyVersion]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	svc.Verb, ok = txt[TXTKeyVerb]
	if !ok || svc.Verb == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVerb)
	}

	svc.ServerName = txt[TXTKeyServerName]
	if fp, ok := txt[TXTKeyFingerprint]; ok {
		if !ValidateFingerprint(fp) {
			return fmt.Errorf("%w: %s", ErrInvalidTXTRecord, TXTKeyFingerprint)
		}
		svc.Fingerprint = fp
	}
	return nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
