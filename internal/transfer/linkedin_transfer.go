package transfer

type LinkedInUserInfo struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

type UGCPostRequest struct {
	Author          string          `json:"author"`
	LifecycleState  string          `json:"lifecycleState"`
	SpecificContent SpecificContent `json:"specificContent"`
	Visibility      Visibility      `json:"visibility"`
}

type SpecificContent struct {
	ShareContent ShareContent `json:"com.linkedin.ugc.ShareContent"`
}

type ShareContent struct {
	ShareCommentary    TextValue    `json:"shareCommentary"`
	ShareMediaCategory string       `json:"shareMediaCategory"`
	Media              []ShareMedia `json:"media,omitempty"`
}

type ShareMedia struct {
	Status      string    `json:"status"`
	Description TextValue `json:"description"`
	Media       string    `json:"media"`
	Title       TextValue `json:"title"`
}

type TextValue struct {
	Text string `json:"text"`
}

type Visibility struct {
	MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
}

type UGCPostResponse struct {
	ID string `json:"id"`
}

type SocialActionsResponse struct {
	LikesSummary struct {
		AggregatedTotalLikes int `json:"aggregatedTotalLikes"`
	} `json:"likesSummary"`
	CommentsSummary struct {
		AggregatedTotalComments int `json:"aggregatedTotalComments"`
		TotalFirstLevelComments int `json:"totalFirstLevelComments"`
	} `json:"commentsSummary"`
}

type LinkedInStatusResponse struct {
	Connected bool   `json:"connected"`
	MemberURN string `json:"member_urn,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Expired   bool   `json:"expired"`
}
