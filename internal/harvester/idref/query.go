package idref

import (
	"fmt"
	"strings"
)

// relatorRoles enumerates the MARC relator codes accepted for
// contributor roles. The endpoint is too slow for a dynamic
// STRSTARTS filter over the marcrel namespace, so the codes are
// expanded into an explicit disjunction.
var relatorRoles = []string{
	"aut", "cmp", "ths", "edt", "pbd", "trl", "aui", "drt", "opn", "ill",
	"prt", "mus", "pra", "clb", "act", "ctb", "sng", "fmo", "cnd", "ant",
	"sec", "sce", "ive", "pbl", "pht", "exp", "auc", "ctg", "com", "nrt",
	"dte", "dnr", "art", "egr", "adp", "cur", "cwt", "bsl", "aft", "mte",
	"asn", "prf", "lbt", "arr", "ivr", "rth", "dgc", "dub", "aqt", "grt",
	"ccp", "cmm", "pro", "rcp", "orm", "osp", "lyr", "ann", "prd", "flm",
	"sad", "wde", "dto", "aus", "ltg", "spn", "chr", "col", "rtm", "bkd",
	"dnc", "etr", "res", "bnd", "pop", "rce", "voc", "pfr", "ilu", "ins",
	"org", "hnr", "prg", "crr", "cll", "bpd", "pdr", "anm", "csp", "wam",
	"dgg", "rev", "tyd", "dst", "scr", "sll", "isb", "tyg", "cns", "bdd",
	"lso", "sgn", "lse", "bjd", "scl", "asg", "frg", "mon", "cph", "ppm",
	"stm", "ppt", "rbr", "cmt", "inv", "unknow", "oth", "pth",
}

// personQuery builds the publications query for a person identified
// by an idref code, an orcid, or both (idref wins).
func personQuery(idrefID, orcid string) string {
	var filter string
	switch {
	case idrefID != "":
		filter = fmt.Sprintf("?pub ?role <http://www.idref.fr/%s/id> .", idrefID)
	case orcid != "":
		filter = fmt.Sprintf("?pub ?role ?pers . \n?pers vivo:orcidId %q .", orcid)
	}

	roleFilters := make([]string, 0, len(relatorRoles))
	for _, role := range relatorRoles {
		roleFilters = append(roleFilters,
			fmt.Sprintf("STR(?contributorRole) = STR(marcrel:%s)", role))
	}

	return "PREFIX skos: <http://www.w3.org/2004/02/skos/core#> \n" +
		"PREFIX dc: <http://purl.org/dc/elements/1.1/> \n" +
		"PREFIX dcterms: <http://purl.org/dc/terms/> \n" +
		"PREFIX rdam: <http://rdaregistry.info/Elements/m/> \n" +
		"PREFIX rdaw: <http://rdaregistry.info/Elements/w/> \n" +
		"PREFIX rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> \n" +
		"PREFIX bibo: <http://purl.org/ontology/bibo/> \n" +
		"PREFIX marcrel: <http://id.loc.gov/vocabulary/relators/> \n" +
		"select distinct  ?pub ?role ?type ?title ?altLabel ?note ?date \n" +
		"?contributor ?contributorRole ?contributorName " +
		"?contributorFamilyName ?contributorGivenName \n" +
		"?subject_uri ?subject_label ?doi ?equivalent \n " +
		"where { " + filter + " \n" +
		"OPTIONAL {?pub rdf:type ?type \n} . " +
		"OPTIONAL {?pub rdaw:P10219 ?date \n} . " +
		"OPTIONAL {?pub bibo:doi ?doi} . " +
		"OPTIONAL {?equivalent rdam:P30135 ?pub \n} . " +
		"OPTIONAL {" +
		"?pub ?contributorRole ?contributor . " +
		"?contributor a foaf:Person . " +
		"?contributor foaf:name ?contributorName . " +
		"?contributor foaf:familyName ?contributorFamilyName . " +
		"?contributor foaf:givenName ?contributorGivenName . " +
		"FILTER(" + strings.Join(roleFilters, " || ") + ") . " +
		"} . " +
		"OPTIONAL {?pub dc:title ?title} . " +
		"OPTIONAL {?pub skos:altLabel ?altLabel} . " +
		"OPTIONAL {?pub skos:note ?note} . " +
		"OPTIONAL {" +
		"?pub dcterms:subject ?subject_uri . " +
		"?subject_uri skos:prefLabel ?subject_label " +
		"} . " +
		"}\n" +
		"LIMIT 10000"
}
