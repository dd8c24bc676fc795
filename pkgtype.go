package shadpkg

import "fmt"

// entryNames maps fixed entry ids to their sce_sys filenames.
var entryNames = map[uint32]string{
	0x0400: "license.dat",
	0x0401: "license.info",
	0x0402: "nptitle.dat",
	0x0403: "npbind.dat",
	0x0404: "selfinfo.dat",
	0x0406: "imageinfo.dat",
	0x0407: "target-deltainfo.dat",
	0x0408: "origin-deltainfo.dat",
	0x0409: "psreserved.dat",
	0x1000: "param.sfo",
	0x1001: "playgo-chunk.dat",
	0x1002: "playgo-chunk.sha",
	0x1003: "playgo-manifest.xml",
	0x1004: "pronunciation.xml",
	0x1005: "pronunciation.sig",
	0x1006: "pic1.png",
	0x1007: "pubtoolinfo.dat",
	0x1008: "app/playgo-chunk.dat",
	0x1009: "app/playgo-chunk.sha",
	0x100A: "app/playgo-manifest.xml",
	0x100B: "shareparam.json",
	0x100C: "save_data.png",
	0x100D: "shareoverlayimage.png",
	0x100E: "privacyguard.dat",
	0x1200: "icon0.png",
	0x1220: "pic0.png",
	0x1240: "snd0.at9",
	0x1260: "changeinfo/changeinfo.xml",
	0x1280: "icon0.dds",
	0x12A0: "pic0.dds",
	0x12C0: "pic1.dds",
	0x1400: "trophy/trophy00.trp",
}

// entryNameByID resolves an entry id to its well-known sce_sys filename.
// Ranged ids cover the numbered variants (localized icons, screenshots,
// changeinfo and trophy sets). Unknown ids return "".
func entryNameByID(id uint32) string {
	if name, ok := entryNames[id]; ok {
		return name
	}

	switch {
	case id > 0x1200 && id < 0x1220: // icon0_<nn>.png
		return fmt.Sprintf("icon0_%02d.png", id-0x1200)
	case id > 0x1240 && id < 0x1260: // pic1_<nn>.png
		return fmt.Sprintf("pic1_%02d.png", id-0x1240)
	case id > 0x1260 && id < 0x1280: // changeinfo/changeinfo_<nn>.xml
		return fmt.Sprintf("changeinfo/changeinfo_%02d.xml", id-0x1260)
	case id > 0x1280 && id < 0x12A0: // icon0_<nn>.dds
		return fmt.Sprintf("icon0_%02d.dds", id-0x1280)
	case id > 0x12C0 && id < 0x12E0: // pic1_<nn>.dds
		return fmt.Sprintf("pic1_%02d.dds", id-0x12C0)
	case id > 0x1400 && id < 0x1464: // trophy/trophy<nn>.trp
		return fmt.Sprintf("trophy/trophy%02d.trp", id-0x1400)
	}

	return ""
}
