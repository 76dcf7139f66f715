package domain

import "time"

// Entity types served by the pipeline.
const (
	EntityItem       = "item"
	EntityCollection = "collection"
)

type MetaAttribute struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Type   string `json:"type,omitempty"`
	Format string `json:"format,omitempty"`
}

// MetaContent describes one media resource referenced by metadata.
type MetaContent struct {
	URL            string `json:"url"`
	Representation string `json:"representation,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
	Size           int64  `json:"size,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

// ItemMeta is the downloaded metadata of a single token.
type ItemMeta struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Language        string          `json:"language,omitempty"`
	Genres          []string        `json:"genres,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Rights          string          `json:"rights,omitempty"`
	ExternalURI     string          `json:"externalUri,omitempty"`
	OriginalMetaURI string          `json:"originalMetaUri,omitempty"`
	CreatedAt       *time.Time      `json:"createdAt,omitempty"`
	Attributes      []MetaAttribute `json:"attributes,omitempty"`
	Content         []MetaContent   `json:"content,omitempty"`
}

// CollectionMeta is the downloaded metadata of a collection contract.
type CollectionMeta struct {
	Name                 string        `json:"name"`
	Description          string        `json:"description,omitempty"`
	ExternalURI          string        `json:"externalUri,omitempty"`
	OriginalMetaURI      string        `json:"originalMetaUri,omitempty"`
	FeeRecipient         string        `json:"feeRecipient,omitempty"`
	SellerFeeBasisPoints int           `json:"sellerFeeBasisPoints,omitempty"`
	Content              []MetaContent `json:"content,omitempty"`
}
